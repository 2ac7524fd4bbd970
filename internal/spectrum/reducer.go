package spectrum

import (
	"fmt"

	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/refdata"
)

// Physical constants, SI.
const (
	rJup = 71492.0e3
	rSun = 696000.0e3
)

// RadiusRatio returns Rp/Rs for a planet radius in Jupiter radii and a
// stellar radius in solar radii.
func RadiusRatio(rpJup, rsSun float64) float64 {
	return rpJup * rJup / (rsSun * rSun)
}

// BuildFilterSet resamples every filter onto the grid. A filter whose
// support leaves the grid range is a configuration error. star is only
// needed in eclipse mode and may be nil.
func BuildFilterSet(grid []float64, filters []refdata.Filter, star *refdata.StellarModel) ([]Band, error) {
	if len(grid) < 2 {
		return nil, apperrors.NewConfigError("spectral grid has %d samples", len(grid))
	}
	for i := 1; i < len(grid); i++ {
		if !(grid[i] > grid[i-1]) {
			return nil, apperrors.NewConfigError("spectral grid is not strictly ascending at sample %d", i)
		}
	}

	var starWn, starFlux []float64
	if star != nil {
		starWn, starFlux = star.Wavenumber, star.Flux
	}
	bands := make([]Band, len(filters))
	for i, f := range filters {
		lo, hi := f.Wavenumber[0], f.Wavenumber[len(f.Wavenumber)-1]
		if lo < grid[0] || hi > grid[len(grid)-1] {
			return nil, apperrors.NewConfigError("filter %d spans [%g, %g] cm-1, outside the spectral grid [%g, %g]",
				i, lo, hi, grid[0], grid[len(grid)-1])
		}
		b, err := Resample(grid, f.Wavenumber, f.Transmission, starWn, starFlux)
		if err != nil {
			return nil, apperrors.WrapError(err, "filter %d", i)
		}
		bands[i] = b
	}
	return bands, nil
}

// Reducer turns raw engine spectra into observables.
type Reducer struct {
	mode  Mode
	grid  []float64
	bands []Band
	rprs2 float64
}

// NewReducer returns a reducer. rprs is only used in eclipse mode.
func NewReducer(mode Mode, grid []float64, bands []Band, rprs float64) (*Reducer, error) {
	if mode == Eclipse {
		for i, b := range bands {
			if b.StellarFlux == nil {
				return nil, apperrors.NewConfigError("eclipse mode needs stellar flux for filter %d", i)
			}
		}
	}
	return &Reducer{mode: mode, grid: grid, bands: bands, rprs2: rprs * rprs}, nil
}

// Filters returns the number of observables per pass.
func (r *Reducer) Filters() int { return len(r.bands) }

// Reduce band-integrates raw, which must have one sample per grid point.
func (r *Reducer) Reduce(raw []float64) ([]float64, error) {
	if len(raw) != len(r.grid) {
		return nil, fmt.Errorf("spectrum has %d samples, grid has %d", len(raw), len(r.grid))
	}
	obs := make([]float64, len(r.bands))
	for i, b := range r.bands {
		spectrum := raw
		if r.mode == Eclipse {
			spectrum = make([]float64, len(raw))
			for j, idx := range b.Indices {
				spectrum[idx] = raw[idx] / b.StellarFlux[j] * r.rprs2
			}
		}
		obs[i] = BandIntegrate(spectrum, r.grid, b.Response, b.Indices)
	}
	return obs, nil
}
