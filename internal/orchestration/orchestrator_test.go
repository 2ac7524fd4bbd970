package orchestration

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agbru/atmoworker/internal/enginestub"
	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/metrics"
	"github.com/agbru/atmoworker/internal/peer"
	"github.com/agbru/atmoworker/internal/peer/mock_peer"
)

// TestRun_EndToEnd drives a full run against the engine stub: three passes,
// the second one out of bounds.
func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	spawner := newStubSpawner(t, cfg)
	driver, worker := driverPipe(t)
	rec := metrics.New()

	passes := [][]float64{{1000, 0}, {5000, 0}, {1200, -1}}
	type driverResult struct {
		obs [][]float64
		err error
	}
	driverDone := make(chan driverResult, 1)
	go func() {
		obs, err := runDriver(ctx, driver, 2, 2, passes)
		driverDone <- driverResult{obs, err}
	}()

	o := New(cfg, worker, spawner, WithMetrics(rec))
	summary, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := <-driverDone
	if res.err != nil {
		t.Fatalf("driver failed: %v", res.err)
	}
	if err := <-spawner.done; err != nil {
		t.Fatalf("engine failed: %v", err)
	}

	if len(res.obs) != 3 {
		t.Fatalf("driver completed %d passes, want 3", len(res.obs))
	}
	wantLevels := []float64{1000 * enginestub.DepthScale, -1, 1200 * enginestub.DepthScale}
	for pass, level := range wantLevels {
		for f, v := range res.obs[pass] {
			if math.Abs(v-level) > 1e-12 {
				t.Errorf("pass %d filter %d = %g, want %g", pass, f, v, level)
			}
		}
	}
	if !reflect.DeepEqual(res.obs[1], []float64{-1, -1}) {
		t.Errorf("out-of-bounds pass returned %v, want the sentinel", res.obs[1])
	}

	if got := spawner.engine.Served(); got != 2 {
		t.Errorf("engine served %d spectra, want 2", got)
	}
	if summary.Passes != 3 || summary.OK != 2 || summary.OutOfBounds != 1 || summary.Invalid != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if o.State() != StateDone {
		t.Errorf("State() = %v, want done", o.State())
	}

	t.Run("engine launch arguments", func(t *testing.T) {
		abs, _ := filepath.Abs(cfg.EngineConfig)
		want := []string{"--config", abs, "--quiet"}
		if spawner.path != cfg.Engine || spawner.workers != 1 || !reflect.DeepEqual(spawner.args, want) {
			t.Errorf("Spawn(%q, %d, %v), want (%q, 1, %v)", spawner.path, spawner.workers, spawner.args, cfg.Engine, want)
		}
	})
}

func TestRun_EclipseBlackbody(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Solution = "eclipse"
	cfg.Verbose = true
	cfg.EngineArgs = []string{"--verb", "2"}
	spawner := newStubSpawner(t, cfg)
	driver, worker := driverPipe(t)

	done := make(chan [][]float64, 1)
	go func() {
		obs, err := runDriver(ctx, driver, 2, 2, [][]float64{{1500, 0}})
		if err != nil {
			t.Errorf("driver failed: %v", err)
		}
		done <- obs
	}()

	var logs bytes.Buffer
	o := New(cfg, worker, spawner,
		WithLogger(logging.NewLogger(&logs, "test").WithLevel(zerolog.DebugLevel)),
		WithTracer(noop.NewTracerProvider().Tracer(TracerName)))
	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	obs := <-done
	<-spawner.done
	if len(obs) != 1 {
		t.Fatalf("got %d passes", len(obs))
	}
	for i, v := range obs[0] {
		if !(v > 0) || math.IsInf(v, 0) {
			t.Errorf("eclipse observable %d = %g, want a positive flux ratio", i, v)
		}
	}
	if want := []string{"--verb", "2"}; !reflect.DeepEqual(spawner.args[2:], want) {
		t.Errorf("verbose run should pass extra args without --quiet, got %v", spawner.args)
	}
	for _, want := range []string{"using a blackbody", `"to":"iterating"`, "run complete"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("logs should contain %q", want)
		}
	}
}

// gridFrame is a 41-sample grid from 1000 to 5000 cm-1.
func gridFrame() peer.Frame {
	grid := make([]float64, 41)
	for i := range grid {
		grid[i] = 1000 + 100*float64(i)
	}
	return peer.Encode(peer.OpGather, grid)
}

// TestRun_RejectedPassSkipsEngine checks the exact collective sequence of a
// one-pass run whose profile is rejected: the driver gets the sentinel and
// the engine only sees the handshake and teardown.
func TestRun_RejectedPassSkipsEngine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params []float64
	}{
		{"out of bounds", []float64{5000, 0}},
		{"below minimum", []float64{100, 0}},
		{"invalid profile", []float64{-20, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			driver := mock_peer.NewMockChannel(ctrl)
			engine := mock_peer.NewMockChannel(ctrl)
			spawner := mock_peer.NewMockSpawner(ctrl)
			cfg := testConfig(t)

			gomock.InOrder(
				driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{2, 1}), nil),
				spawner.EXPECT().Spawn(gomock.Any(), "transit", 1, gomock.Any()).Return(engine, nil),
				engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(peer.Encode(peer.OpGather, []int32{41}), nil),
				engine.EXPECT().Send(gomock.Any(), peer.Encode(peer.OpBroadcast, []int32{12, 1})).Return(nil),
				engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(gridFrame(), nil),
				driver.EXPECT().Receive(gomock.Any(), peer.OpScatter).Return(peer.Encode(peer.OpScatter, tt.params), nil),
				driver.EXPECT().Send(gomock.Any(), peer.Encode(peer.OpGather, []float64{-1, -1})).Return(nil),
				driver.EXPECT().Disconnect(gomock.Any()).Return(nil),
				engine.EXPECT().Barrier(gomock.Any()).Return(nil),
				engine.EXPECT().Disconnect(gomock.Any()).Return(nil),
			)

			summary, err := New(cfg, driver, spawner).Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if summary.Passes != 1 || summary.OK != 0 {
				t.Errorf("summary = %+v", summary)
			}
		})
	}
}

func TestRun_TeardownFailuresAreLogged(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	driver := mock_peer.NewMockChannel(ctrl)
	engine := mock_peer.NewMockChannel(ctrl)
	spawner := mock_peer.NewMockSpawner(ctrl)

	gomock.InOrder(
		driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{2, 0}), nil),
		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any(), 1, gomock.Any()).Return(engine, nil),
		engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(peer.Encode(peer.OpGather, []int32{41}), nil),
		engine.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil),
		engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(gridFrame(), nil),
		driver.EXPECT().Disconnect(gomock.Any()).Return(errors.New("broken pipe")),
		engine.EXPECT().Barrier(gomock.Any()).Return(errors.New("broken pipe")),
		engine.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	o := New(testConfig(t), driver, spawner)
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("teardown failures should not fail the run: %v", err)
	}
	if summary.Passes != 0 || o.State() != StateDone {
		t.Errorf("summary = %+v, state = %v", summary, o.State())
	}
}

func TestRun_SetupErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(t *testing.T, o *Orchestrator)
	}{
		{"missing atmosphere", func(t *testing.T, o *Orchestrator) {
			o.cfg.AtmosphereFile = filepath.Join(t.TempDir(), "none.atm")
		}},
		{"missing filter", func(t *testing.T, o *Orchestrator) {
			o.cfg.Filters = append(o.cfg.Filters, filepath.Join(t.TempDir(), "none.dat"))
		}},
		{"unknown fit molecule", func(t *testing.T, o *Orchestrator) { o.cfg.MolFit = []string{"NH3"} }},
		{"unknown PT type", func(t *testing.T, o *Orchestrator) { o.cfg.PTType = "none" }},
		{"unknown solution", func(t *testing.T, o *Orchestrator) { o.cfg.Solution = "direct" }},
		{"missing stellar grid", func(t *testing.T, o *Orchestrator) {
			o.cfg.Solution = "eclipse"
			o.cfg.KuruczFile = filepath.Join(t.TempDir(), "none.pck")
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			// no expectations: setup must not touch either peer
			o := New(testConfig(t), mock_peer.NewMockChannel(ctrl), mock_peer.NewMockSpawner(ctrl))
			tt.mutate(t, o)

			_, err := o.Run(context.Background())
			var cfgErr apperrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if code := apperrors.ExitCode(err); code != apperrors.ExitErrorConfig {
				t.Errorf("ExitCode = %d, want %d", code, apperrors.ExitErrorConfig)
			}
			if o.State() != StateDone {
				t.Errorf("State() = %v, want done", o.State())
			}
		})
	}
}

func TestRun_HandshakeErrors(t *testing.T) {
	t.Parallel()

	t.Run("parameter count mismatch is fatal before spawning", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		driver := mock_peer.NewMockChannel(ctrl)
		driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{6, 3}), nil)

		_, err := New(testConfig(t), driver, mock_peer.NewMockSpawner(ctrl)).Run(context.Background())
		if apperrors.ExitCode(err) != apperrors.ExitErrorConfig {
			t.Errorf("expected a configuration error, got %v", err)
		}
	})

	t.Run("initial params length must match", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		driver := mock_peer.NewMockChannel(ctrl)
		driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{2, 3}), nil)

		cfg := testConfig(t)
		cfg.Params = []float64{1000, 0, 0}
		_, err := New(cfg, driver, mock_peer.NewMockSpawner(ctrl)).Run(context.Background())
		if apperrors.ExitCode(err) != apperrors.ExitErrorConfig {
			t.Errorf("expected a configuration error, got %v", err)
		}
	})

	t.Run("filter outside the engine grid", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		driver := mock_peer.NewMockChannel(ctrl)
		engine := mock_peer.NewMockChannel(ctrl)
		spawner := mock_peer.NewMockSpawner(ctrl)
		narrow := peer.Encode(peer.OpGather, []float64{1000, 1500, 2000, 2500})

		gomock.InOrder(
			driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{2, 3}), nil),
			spawner.EXPECT().Spawn(gomock.Any(), gomock.Any(), 1, gomock.Any()).Return(engine, nil),
			engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(peer.Encode(peer.OpGather, []int32{4}), nil),
			engine.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil),
			engine.EXPECT().Receive(gomock.Any(), peer.OpGather).Return(narrow, nil),
		)

		_, err := New(testConfig(t), driver, spawner).Run(context.Background())
		if apperrors.ExitCode(err) != apperrors.ExitErrorConfig {
			t.Errorf("expected a configuration error, got %v", err)
		}
	})

	t.Run("spawn failure", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		driver := mock_peer.NewMockChannel(ctrl)
		spawner := mock_peer.NewMockSpawner(ctrl)
		driver.EXPECT().Receive(gomock.Any(), peer.OpBroadcast).Return(peer.Encode(peer.OpBroadcast, []int32{2, 3}), nil)
		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any(), 1, gomock.Any()).
			Return(nil, apperrors.PeerError{Op: "spawn", Cause: errors.New("executable file not found")})

		_, err := New(testConfig(t), driver, spawner).Run(context.Background())
		if apperrors.ExitCode(err) != apperrors.ExitErrorPeer {
			t.Errorf("expected a peer error, got %v", err)
		}
	})
}

func TestRun_DriverDesync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	spawner := newStubSpawner(t, cfg)
	driver, worker := driverPipe(t)

	go func() {
		_ = peer.BroadcastOut(ctx, driver, []int32{2, 2})
		// a gather where the worker expects a scatter
		_ = peer.GatherOut(ctx, driver, []float64{1, 2})
	}()

	o := New(cfg, worker, spawner)
	_, err := o.Run(ctx)
	if !peer.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if code := apperrors.ExitCode(err); code != apperrors.ExitErrorProtocol {
		t.Errorf("ExitCode = %d, want %d", code, apperrors.ExitErrorProtocol)
	}
	select {
	case <-spawner.done:
	case <-time.After(2 * time.Second):
		t.Error("engine was not released after the abort")
	}
}

func TestRun_Cancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	_, worker := driverPipe(t)
	spawner := newStubSpawner(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := New(cfg, worker, spawner).Run(ctx)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if code := apperrors.ExitCode(err); code != apperrors.ExitErrorCanceled {
			t.Errorf("ExitCode = %d, want %d (err: %v)", code, apperrors.ExitErrorCanceled, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	want := []string{"setup", "handshake", "iterating", "teardown", "done"}
	for s := StateSetup; s <= StateDone; s++ {
		if s.String() != want[s] {
			t.Errorf("State(%d) = %q, want %q", s, s.String(), want[s])
		}
	}
	if State(9).String() != "unknown" {
		t.Error("out-of-range state should be unknown")
	}
}
