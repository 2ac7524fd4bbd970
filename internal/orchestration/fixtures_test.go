package orchestration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/agbru/atmoworker/internal/config"
	"github.com/agbru/atmoworker/internal/enginestub"
	"github.com/agbru/atmoworker/internal/peer"
)

const testAtmosphere = `# three-layer test atmosphere
#SPECIES
H2 He H2O
#TEADATA
#Pressure  Temp   H2    He    H2O
 1.0e+2    1500   0.8   0.2   1e-4
 1.0e+0    1200   0.8   0.2   1e-4
 1.0e-2    1000   0.8   0.2   1e-4
`

const testTEP = `Ts        6065
Rs        1.155
a         0.04707
Rp        1.359
Mp        0.714
loggstar  4.361
`

// filter curves in microns; support 2857-4000 and 2222-2857 cm-1
const (
	testFilterA = "2.5 0.0\n3.0 1.0\n3.5 0.0\n"
	testFilterB = "3.5 0.0\n4.0 1.0\n4.5 0.0\n"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// testConfig writes the reference files and returns a valid transit
// configuration with an isothermal profile fitting H2O.
func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	atm := writeTestFile(t, dir, "test.atm", testAtmosphere)

	cfg := config.Default()
	cfg.AtmosphereFile = atm
	cfg.TEPFile = writeTestFile(t, dir, "planet.tep", testTEP)
	cfg.Filters = []string{
		writeTestFile(t, dir, "a.dat", testFilterA),
		writeTestFile(t, dir, "b.dat", testFilterB),
	}
	cfg.EngineConfig = writeTestFile(t, dir, "transit.cfg", "wnlow 1000\nwnhigh 5000\nwndelt 10\natm "+atm+"\n")
	cfg.PTType = "isothermal"
	cfg.MolFit = []string{"H2O"}
	cfg.Solution = "transit"
	return cfg
}

// stubSpawner runs an enginestub.Engine over an in-memory pipe.
type stubSpawner struct {
	engine  *enginestub.Engine
	path    string
	workers int
	args    []string
	done    chan error
}

func newStubSpawner(t *testing.T, cfg config.AppConfig) *stubSpawner {
	t.Helper()
	ecfg, err := enginestub.ReadConfig(cfg.EngineConfig)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	engine, err := enginestub.New(ecfg, nil)
	if err != nil {
		t.Fatalf("enginestub.New failed: %v", err)
	}
	return &stubSpawner{engine: engine, done: make(chan error, 1)}
}

func (s *stubSpawner) Spawn(ctx context.Context, path string, workers int, args []string) (peer.Channel, error) {
	s.path, s.workers, s.args = path, workers, args
	a, b := net.Pipe()
	go func() {
		child, err := peer.Join(ctx, b)
		if err != nil {
			s.done <- err
			return
		}
		s.done <- s.engine.Serve(ctx, child)
	}()
	return peer.Accept(ctx, a)
}

// driverPipe returns the driver's end and the worker's end of a channel.
func driverPipe(t *testing.T) (*peer.Conn, *peer.Conn) {
	t.Helper()
	a, b := net.Pipe()
	driver, worker := peer.NewStream(a, peer.Parent), peer.NewStream(b, peer.Child)
	t.Cleanup(func() {
		driver.Close()
		worker.Close()
	})
	return driver, worker
}

// runDriver plays the fitting driver: it announces the budget, scatters
// each parameter vector, gathers the observables and disconnects.
func runDriver(ctx context.Context, ch peer.Channel, paramCount, filters int, passes [][]float64) ([][]float64, error) {
	if err := peer.BroadcastOut(ctx, ch, []int32{int32(paramCount), int32(len(passes))}); err != nil {
		return nil, err
	}
	var out [][]float64
	for _, params := range passes {
		if err := peer.ScatterOut(ctx, ch, params); err != nil {
			return out, err
		}
		obs, err := peer.GatherIn[float64](ctx, ch, filters)
		if err != nil {
			return out, err
		}
		out = append(out, obs)
	}
	return out, ch.Disconnect(ctx)
}
