// Package enginestub is a reference transfer engine speaking the engine side
// of the worker protocol. It computes a flat synthetic spectrum whose level
// tracks the mean atmospheric temperature, which is enough to exercise the
// worker end to end without a radiative-transfer code.
package enginestub

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/peer"
	"github.com/agbru/atmoworker/internal/refdata"
)

// DepthScale converts a mean temperature in kelvin to a transit depth.
const DepthScale = 1e-5

// Config is the subset of a transfer configuration the stub understands:
// "key value" lines, "#" comments, unknown keys ignored.
type Config struct {
	WnLow   float64 // cm-1
	WnHigh  float64 // cm-1
	WnDelta float64 // cm-1
	Atm     string  // atmosphere file, sets the layer and species counts
}

// ReadConfig parses a configuration file.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.NewConfigError("read engine config: %v", err)
	}
	cfg := Config{WnLow: 1000, WnHigh: 5000, WnDelta: 10}
	for i, raw := range strings.Split(string(data), "\n") {
		fields := strings.Fields(raw)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return Config{}, apperrors.NewConfigError("%s:%d: key %q has no value", path, i+1, fields[0])
		}
		var dst *float64
		switch fields[0] {
		case "wnlow":
			dst = &cfg.WnLow
		case "wnhigh":
			dst = &cfg.WnHigh
		case "wndelt":
			dst = &cfg.WnDelta
		case "atm":
			cfg.Atm = fields[1]
			continue
		default:
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Config{}, apperrors.NewConfigError("%s:%d: invalid %s %q", path, i+1, fields[0], fields[1])
		}
		*dst = v
	}
	if cfg.Atm == "" {
		return Config{}, apperrors.NewConfigError("%s: atm is required", path)
	}
	if !(cfg.WnDelta > 0) || !(cfg.WnHigh > cfg.WnLow) {
		return Config{}, apperrors.NewConfigError("%s: invalid spectral range [%g, %g] step %g", path, cfg.WnLow, cfg.WnHigh, cfg.WnDelta)
	}
	return cfg, nil
}

// Grid returns the wavenumber samples from WnLow to WnHigh inclusive.
func (c Config) Grid() []float64 {
	n := int(math.Floor((c.WnHigh-c.WnLow)/c.WnDelta+1e-9)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = c.WnLow + float64(i)*c.WnDelta
	}
	return grid
}

// channel is the worker end as seen by the engine.
type channel interface {
	peer.Channel
	Next(ctx context.Context) (peer.Frame, error)
}

// Engine serves spectra to one worker.
type Engine struct {
	grid    []float64
	layers  int
	species int
	logger  logging.Logger
	served  int
}

// New prepares an engine from its configuration.
func New(cfg Config, logger logging.Logger) (*Engine, error) {
	atm, err := refdata.ReadAtmosphere(cfg.Atm)
	if err != nil {
		return nil, apperrors.NewConfigError("engine atmosphere: %v", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		grid:    cfg.Grid(),
		layers:  len(atm.Pressure),
		species: len(atm.Species),
		logger:  logger,
	}, nil
}

// Served returns the number of spectra computed so far.
func (e *Engine) Served() int { return e.served }

// Serve runs the handshake and then answers profiles until the worker's
// barrier, after which it disconnects.
func (e *Engine) Serve(ctx context.Context, ch channel) error {
	if err := peer.GatherOut(ctx, ch, []int32{int32(len(e.grid))}); err != nil {
		return err
	}
	head, err := peer.BroadcastIn[int32](ctx, ch, 2)
	if err != nil {
		return err
	}
	size, budget := int(head[0]), int(head[1])
	if want := e.layers * (e.species + 1); size != want {
		return apperrors.NewConfigError("worker profile size %d does not match %d layers x %d species", size, e.layers, e.species)
	}
	if err := peer.GatherOut(ctx, ch, e.grid); err != nil {
		return err
	}
	e.logger.Debug("engine handshake complete",
		logging.Int("samples", len(e.grid)), logging.Int("profile_size", size), logging.Int("budget", budget))

	for {
		f, err := ch.Next(ctx)
		if err != nil {
			return err
		}
		switch f.Op {
		case peer.OpScatter:
			profile, err := peer.Decode[float64](f)
			if err != nil || len(profile) != size {
				return apperrors.ProtocolError{Op: "scatter", Want: fmt.Sprintf("scatter float64[%d]", size), Got: f.String()}
			}
			if err := peer.GatherOut(ctx, ch, e.spectrum(profile)); err != nil {
				return err
			}
			e.served++
			if e.served > budget {
				e.logger.Warn("worker sent more profiles than the iteration budget",
					logging.Int("served", e.served), logging.Int("budget", budget))
			}
		case peer.OpBarrier:
			if err := ch.Send(ctx, peer.Frame{Op: peer.OpBarrier}); err != nil {
				return err
			}
			e.logger.Debug("engine finished", logging.Int("served", e.served))
			return ch.Disconnect(ctx)
		default:
			return apperrors.ProtocolError{Op: "serve", Want: "scatter or barrier", Got: f.String()}
		}
	}
}

// spectrum is flat at the mean layer temperature times DepthScale.
func (e *Engine) spectrum(profile []float64) []float64 {
	mean := 0.0
	for _, t := range profile[:e.layers] {
		mean += t
	}
	mean /= float64(e.layers)
	out := make([]float64, len(e.grid))
	for i := range out {
		out[i] = mean * DepthScale
	}
	return out
}
