package orchestration

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/agbru/atmoworker/internal/atmosphere"
	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/pt"
	"github.com/agbru/atmoworker/internal/refdata"
	"github.com/agbru/atmoworker/internal/spectrum"
)

// Setup loads every reference input once. The atmosphere, TEP and filter
// files are read concurrently; the first failure cancels the others.
func (o *Orchestrator) Setup(ctx context.Context) error {
	o.setState(StateSetup)

	mode, err := spectrum.ParseMode(o.cfg.Solution)
	if err != nil {
		return err
	}
	o.mode = mode

	var (
		atm *refdata.Atmosphere
		tep refdata.TEP
	)
	filters := make([]refdata.Filter, len(o.cfg.Filters))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		atm, err = load(gctx, "atmosphere", o.cfg.AtmosphereFile, refdata.ReadAtmosphere)
		return err
	})
	g.Go(func() error {
		var err error
		tep, err = load(gctx, "TEP", o.cfg.TEPFile, refdata.ReadTEP)
		return err
	})
	for i, path := range o.cfg.Filters {
		i, path := i, path
		g.Go(func() error {
			var err error
			filters[i], err = load(gctx, "filter", path, refdata.ReadFilter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	o.filters = filters

	o.planet, err = tep.Planet()
	if err != nil {
		return apperrors.NewConfigError("TEP %s: %v", o.cfg.TEPFile, err)
	}
	if o.mode == spectrum.Eclipse && o.cfg.KuruczFile != "" {
		o.star, err = refdata.ReadKurucz(o.cfg.KuruczFile, o.planet.Ts, o.planet.LoggStar)
		if err != nil {
			return apperrors.NewConfigError("stellar model: %v", err)
		}
		o.logger.Info("stellar model selected",
			logging.Float64("teff", o.star.Teff), logging.Float64("logg", o.star.Logg))
	}

	o.grid, err = atmosphere.NewGrid(atm)
	if err != nil {
		return err
	}
	index, err := atmosphere.NewSpeciesIndex(o.grid, o.cfg.MolFit)
	if err != nil {
		return err
	}
	generate, nPT, err := pt.New(o.cfg.PTType, pt.Args{
		Ts:   o.planet.Ts,
		Rs:   o.planet.Rs,
		A:    o.planet.A,
		Rp:   o.planet.Rp,
		Mp:   o.planet.Mp,
		Tint: o.cfg.Tint,
	})
	if err != nil {
		return apperrors.NewConfigError("PT profile: %v", err)
	}
	o.builder, err = atmosphere.NewBuilder(o.grid, index, generate, nPT)
	if err != nil {
		return err
	}
	o.nPT = nPT

	o.logger.Info("setup complete",
		logging.Int("layers", o.grid.Layers()),
		logging.Strings("species", o.grid.Species),
		logging.Int("filters", len(o.filters)),
		logging.String("solution", o.mode.String()))
	return nil
}

// load reads one reference file unless the group was already cancelled.
func load[T any](ctx context.Context, what, path string, read func(string) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	v, err := read(path)
	if err != nil {
		return zero, apperrors.NewConfigError("%s %s: %v", what, path, err)
	}
	return v, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
