package orchestration

import (
	"context"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agbru/atmoworker/internal/atmosphere"
	"github.com/agbru/atmoworker/internal/config"
	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/format"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/metrics"
	"github.com/agbru/atmoworker/internal/peer"
	"github.com/agbru/atmoworker/internal/refdata"
	"github.com/agbru/atmoworker/internal/spectrum"
)

// TracerName identifies the spans emitted by the orchestrator.
const TracerName = "atmoworker/orchestration"

// sentinelValue fills the observable vector of a rejected pass.
const sentinelValue = -1.0

// Summary counts the passes of a run by outcome.
type Summary struct {
	Passes      int
	OK          int
	OutOfBounds int
	Invalid     int
	Elapsed     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records pass outcomes and latencies in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator owns the driver and engine channels and runs the pipeline
// SETUP, HANDSHAKE, ITERATING, TEARDOWN, DONE. It is not safe for concurrent
// use apart from State.
type Orchestrator struct {
	cfg     config.AppConfig
	driver  peer.Channel
	spawner peer.Spawner
	logger  logging.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer

	state atomic.Int32

	// built by setup
	grid    *atmosphere.Grid
	builder *atmosphere.Builder
	nPT     int
	planet  refdata.Planet
	star    *refdata.StellarModel
	filters []refdata.Filter
	mode    spectrum.Mode

	// built by handshake
	engine      peer.Channel
	paramCount  int
	budget      int
	sampleCount int
	reducer     *spectrum.Reducer
	sentinel    []float64

	summary Summary
}

// New returns an orchestrator for cfg talking to driver. The engine is
// launched through spawner during the handshake.
func New(cfg config.AppConfig, driver peer.Channel, spawner peer.Spawner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		driver:  driver,
		spawner: spawner,
		logger:  logging.Nop(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.metrics.SetState(int(StateSetup))
	return o
}

// State returns the current pipeline stage.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Summary returns the pass counts so far.
func (o *Orchestrator) Summary() Summary { return o.summary }

func (o *Orchestrator) setState(s State) {
	from := State(o.state.Swap(int32(s)))
	o.metrics.SetState(int(s))
	o.logger.Info("state transition", logging.String("from", from.String()), logging.String("to", s.String()))
}

// Run executes the whole pipeline. A fatal error aborts the run: the
// channels are closed without the teardown handshake and the error is
// returned.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	err := o.Setup(ctx)
	if err == nil {
		err = o.Handshake(ctx)
	}
	if err == nil {
		err = o.Iterate(ctx)
	}
	if err != nil {
		o.abort()
		o.summary.Elapsed = time.Since(start)
		return o.summary, err
	}
	o.Teardown(ctx)
	o.summary.Elapsed = time.Since(start)
	o.logSummary()
	return o.summary, nil
}

// Handshake agrees the budget with the driver, spawns the engine and
// receives its spectral grid.
func (o *Orchestrator) Handshake(ctx context.Context) error {
	o.setState(StateHandshake)

	head, err := peer.BroadcastIn[int32](ctx, o.driver, 2)
	if err != nil {
		return apperrors.WrapError(err, "driver handshake")
	}
	o.paramCount, o.budget = int(head[0]), int(head[1])
	if o.budget < 0 {
		return apperrors.ProtocolError{Op: "handshake", Want: "non-negative iteration budget", Got: itoa(o.budget)}
	}
	if nPT := o.paramCount - len(o.cfg.MolFit); nPT != o.nPT {
		return apperrors.NewConfigError("driver announced %d parameters: %s profile takes %d plus %d fit molecules",
			o.paramCount, o.cfg.PTType, o.nPT, len(o.cfg.MolFit))
	}
	if len(o.cfg.Params) > 0 && len(o.cfg.Params) != o.paramCount {
		return apperrors.NewConfigError("params lists %d values, driver announced %d", len(o.cfg.Params), o.paramCount)
	}
	o.metrics.SetBudget(o.budget)
	o.logger.Info("driver handshake complete", logging.Int("params", o.paramCount), logging.Int("budget", o.budget))

	args, err := o.engineArgs()
	if err != nil {
		return err
	}
	o.logger.Debug("spawning engine", logging.String("path", o.cfg.Engine), logging.Strings("args", args))
	o.engine, err = o.spawner.Spawn(ctx, o.cfg.Engine, 1, args)
	if err != nil {
		return err
	}

	nwave, err := peer.GatherIn[int32](ctx, o.engine, 1)
	if err != nil {
		return apperrors.WrapError(err, "engine handshake")
	}
	o.sampleCount = int(nwave[0])
	if o.sampleCount < 2 {
		return apperrors.ProtocolError{Op: "handshake", Want: "at least 2 spectral samples", Got: itoa(o.sampleCount)}
	}
	if err := peer.BroadcastOut(ctx, o.engine, []int32{int32(o.grid.ProfileSize()), int32(o.budget)}); err != nil {
		return apperrors.WrapError(err, "engine handshake")
	}
	specGrid, err := peer.GatherIn[float64](ctx, o.engine, o.sampleCount)
	if err != nil {
		return apperrors.WrapError(err, "engine handshake")
	}

	star := o.star
	if o.mode == spectrum.Eclipse && star == nil {
		o.logger.Info("no stellar model configured, using a blackbody", logging.Float64("teff", o.planet.Ts))
		star = refdata.Blackbody(o.planet.Ts, specGrid)
	}
	bands, err := spectrum.BuildFilterSet(specGrid, o.filters, star)
	if err != nil {
		return err
	}
	o.reducer, err = spectrum.NewReducer(o.mode, specGrid, bands, spectrum.RadiusRatio(o.planet.Rp, o.planet.Rs))
	if err != nil {
		return err
	}
	o.sentinel = make([]float64, len(bands))
	for i := range o.sentinel {
		o.sentinel[i] = sentinelValue
	}
	o.logger.Info("engine handshake complete",
		logging.Int("samples", o.sampleCount),
		logging.Float64("wn_min", specGrid[0]),
		logging.Float64("wn_max", specGrid[len(specGrid)-1]))
	return nil
}

func (o *Orchestrator) engineArgs() ([]string, error) {
	cfgPath, err := filepath.Abs(o.cfg.EngineConfig)
	if err != nil {
		return nil, apperrors.NewConfigError("engine config %q: %v", o.cfg.EngineConfig, err)
	}
	args := append([]string{"--config", cfgPath}, o.cfg.EngineArgs...)
	if !o.cfg.Verbose {
		args = append(args, "--quiet")
	}
	return args, nil
}

// Iterate runs exactly budget passes.
func (o *Orchestrator) Iterate(ctx context.Context) error {
	o.setState(StateIterating)
	progress := newProgressTracker(o.budget, time.Now())
	for pass := 0; pass < o.budget; pass++ {
		if err := o.runPass(ctx, pass); err != nil {
			return apperrors.WrapError(err, "pass %d", pass)
		}
		frac, eta := progress.Update(time.Now())
		if progress.Due() {
			o.logger.Info("iteration progress",
				logging.Int("pass", pass+1),
				logging.Int("budget", o.budget),
				logging.Float64("done", frac),
				logging.Duration("eta", eta))
		}
	}
	return nil
}

// runPass executes one pass. Every driver-side call happens whatever the
// outcome so the driver never waits on a skipped collective.
func (o *Orchestrator) runPass(ctx context.Context, pass int) (err error) {
	ctx, span := o.tracer.Start(ctx, "pass", trace.WithAttributes(attribute.Int("pass", pass)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	params, err := peer.ScatterIn[float64](ctx, o.driver, o.paramCount)
	if err != nil {
		return err
	}

	outcome := metrics.OutcomeOK
	result := o.builder.Build(params)
	switch {
	case !result.Ok():
		outcome = metrics.OutcomeInvalid
		o.logger.Debug("invalid profile", logging.Int("pass", pass), logging.Err(result.Invalid))
	case atmosphere.CheckBounds(result.Profiles, o.cfg.Tmin, o.cfg.Tmax) == atmosphere.OutOfBounds:
		outcome = metrics.OutcomeOutOfBounds
		o.logger.Debug("temperature out of bounds",
			logging.Int("pass", pass), logging.Floats("temperature", result.Profiles.Temperature()))
	}
	span.SetAttributes(attribute.String("outcome", outcome))

	obs := o.sentinel
	if outcome == metrics.OutcomeOK {
		obs, err = o.simulate(ctx, result.Profiles)
		if err != nil {
			return err
		}
	}
	if err := peer.GatherOut(ctx, o.driver, obs); err != nil {
		return err
	}

	o.record(outcome)
	return nil
}

// simulate sends profiles to the engine and reduces its spectrum.
func (o *Orchestrator) simulate(ctx context.Context, profiles *atmosphere.Profiles) ([]float64, error) {
	sent := time.Now()
	if err := peer.ScatterOut(ctx, o.engine, profiles.Flatten()); err != nil {
		return nil, err
	}
	raw, err := peer.GatherIn[float64](ctx, o.engine, o.sampleCount)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveRoundTrip(time.Since(sent))
	obs, err := o.reducer.Reduce(raw)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("band fluxes", logging.Floats("observables", obs))
	return obs, nil
}

func (o *Orchestrator) record(outcome string) {
	o.summary.Passes++
	switch outcome {
	case metrics.OutcomeOK:
		o.summary.OK++
	case metrics.OutcomeOutOfBounds:
		o.summary.OutOfBounds++
	case metrics.OutcomeInvalid:
		o.summary.Invalid++
	}
	o.metrics.Pass(outcome)
}

// Teardown disconnects from the driver, then synchronises with the engine
// and disconnects from it. Failures are logged, never retried.
func (o *Orchestrator) Teardown(ctx context.Context) {
	o.setState(StateTeardown)
	if err := o.driver.Disconnect(ctx); err != nil {
		o.logger.Error("driver disconnect failed", err)
	}
	if o.engine != nil {
		if err := o.engine.Barrier(ctx); err != nil {
			o.logger.Error("engine barrier failed", err)
		}
		if err := o.engine.Disconnect(ctx); err != nil {
			o.logger.Error("engine disconnect failed", err)
		}
	}
	o.setState(StateDone)
}

// abort closes both channels without a handshake.
func (o *Orchestrator) abort() {
	for _, ch := range []peer.Channel{o.engine, o.driver} {
		if c, ok := ch.(io.Closer); ok {
			_ = c.Close()
		}
	}
	o.setState(StateDone)
}

func (o *Orchestrator) logSummary() {
	rt := metrics.ReadRuntime()
	o.logger.Info("run complete",
		logging.Int("passes", o.summary.Passes),
		logging.Int("ok", o.summary.OK),
		logging.Int("out_of_bounds", o.summary.OutOfBounds),
		logging.Int("invalid", o.summary.Invalid),
		logging.String("elapsed", format.FormatExecutionDuration(o.summary.Elapsed)),
		logging.Uint64("heap_alloc", rt.HeapAlloc),
		logging.Int("num_gc", int(rt.NumGC)))
}
