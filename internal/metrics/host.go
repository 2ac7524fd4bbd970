package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostStats holds a single snapshot of system-wide resource usage.
type HostStats struct {
	CPUPercent float64 // 0.0 .. 100.0
	MemPercent float64 // 0.0 .. 100.0
}

// SampleHost collects a system-wide CPU and memory snapshot.
// CPU uses interval=0 (delta since last call). Returns zero values on error.
func SampleHost() HostStats {
	var s HostStats
	cpuPcts, err := cpu.Percent(0, false)
	if err == nil && len(cpuPcts) > 0 {
		s.CPUPercent = cpuPcts[0]
	}
	vmem, err := mem.VirtualMemory()
	if err == nil && vmem != nil {
		s.MemPercent = vmem.UsedPercent
	}
	return s
}

// hostCollector samples the host on every scrape. The transfer engine runs
// on the same host, so its load shows up here.
type hostCollector struct {
	cpu *prometheus.Desc
	mem *prometheus.Desc
}

// NewHostCollector returns a collector for host CPU and memory usage.
func NewHostCollector() prometheus.Collector {
	return &hostCollector{
		cpu: prometheus.NewDesc(namespace+"_host_cpu_percent", "System-wide CPU usage.", nil, nil),
		mem: prometheus.NewDesc(namespace+"_host_memory_percent", "System-wide memory usage.", nil, nil),
	}
}

func (c *hostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.mem
}

func (c *hostCollector) Collect(ch chan<- prometheus.Metric) {
	s := SampleHost()
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, s.CPUPercent)
	ch <- prometheus.MustNewConstMetric(c.mem, prometheus.GaugeValue, s.MemPercent)
}
