package refdata

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Filter is an instrument response curve on an ascending wavenumber axis.
type Filter struct {
	Wavenumber   []float64 // cm-1, ascending
	Transmission []float64
}

// ReadFilter reads a filter file of "wavelength_um transmission" rows and
// converts it to an ascending wavenumber axis.
func ReadFilter(path string) (Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return Filter{}, err
	}
	defer f.Close()
	flt, err := ParseFilter(f)
	if err != nil {
		return Filter{}, fmt.Errorf("%s: %w", path, err)
	}
	return flt, nil
}

// ParseFilter parses filter content.
func ParseFilter(r io.Reader) (Filter, error) {
	lines, err := scanLines(r)
	if err != nil {
		return Filter{}, err
	}
	type sample struct{ wn, tr float64 }
	var samples []sample
	for _, l := range lines {
		if strings.HasPrefix(l.text, "#") {
			continue
		}
		row, err := parseRow(l)
		if err != nil {
			return Filter{}, err
		}
		if len(row) < 2 {
			return Filter{}, fmt.Errorf("line %d: expected wavelength and transmission", l.num)
		}
		if row[0] <= 0 {
			return Filter{}, fmt.Errorf("line %d: wavelength must be positive, got %g", l.num, row[0])
		}
		samples = append(samples, sample{wn: 1e4 / row[0], tr: row[1]})
	}
	if len(samples) < 2 {
		return Filter{}, fmt.Errorf("filter needs at least two samples, got %d", len(samples))
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].wn < samples[j].wn })

	flt := Filter{
		Wavenumber:   make([]float64, len(samples)),
		Transmission: make([]float64, len(samples)),
	}
	for i, s := range samples {
		if i > 0 && s.wn == samples[i-1].wn {
			return Filter{}, fmt.Errorf("duplicate wavelength %g um", 1e4/s.wn)
		}
		flt.Wavenumber[i] = s.wn
		flt.Transmission[i] = s.tr
	}
	return flt, nil
}
