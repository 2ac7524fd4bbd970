package spectrum

import (
	"sort"

	apperrors "github.com/agbru/atmoworker/internal/errors"
)

// Band is one filter resampled onto the spectral grid.
type Band struct {
	Indices     []int     // grid samples inside the filter support
	Response    []float64 // normalised transmission at Indices
	StellarFlux []float64 // stellar flux at Indices, eclipse mode only
}

// Resample interpolates a filter (and optionally a stellar spectrum) onto the
// grid samples strictly inside the filter support. The response is normalised
// so its trapezoidal integral over those samples is one. starWn may be nil.
func Resample(grid, filterWn, transmission, starWn, starFlux []float64) (Band, error) {
	if len(filterWn) < 2 || len(filterWn) != len(transmission) {
		return Band{}, apperrors.NewConfigError("filter needs matching wavenumber and transmission samples")
	}
	lo, hi := filterWn[0], filterWn[len(filterWn)-1]

	var b Band
	for i, wn := range grid {
		if wn > lo && wn < hi {
			b.Indices = append(b.Indices, i)
		}
	}
	if len(b.Indices) < 2 {
		return Band{}, apperrors.NewConfigError("filter [%g, %g] cm-1 covers %d grid samples, need at least 2", lo, hi, len(b.Indices))
	}

	wn := take(grid, b.Indices)
	b.Response = interp(wn, filterWn, transmission)
	norm := trapz(b.Response, wn)
	if norm <= 0 {
		return Band{}, apperrors.NewConfigError("filter [%g, %g] cm-1 has no transmission on the grid", lo, hi)
	}
	for i := range b.Response {
		b.Response[i] /= norm
	}

	if starWn != nil {
		b.StellarFlux = interp(wn, starWn, starFlux)
		for _, f := range b.StellarFlux {
			if f <= 0 {
				return Band{}, apperrors.NewConfigError("stellar flux is not positive inside filter [%g, %g] cm-1", lo, hi)
			}
		}
	}
	return b, nil
}

// BandIntegrate is the trapezoidal integral of spectrum*response over the
// grid samples at indices. spectrum is indexed like grid.
func BandIntegrate(spectrum, grid, response []float64, indices []int) float64 {
	y := make([]float64, len(indices))
	for i, idx := range indices {
		y[i] = spectrum[idx] * response[i]
	}
	return trapz(y, take(grid, indices))
}

func take(s []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = s[idx]
	}
	return out
}

// interp evaluates the piecewise-linear function (xp, fp) at x. xp must be
// ascending; x outside the range takes the end values.
func interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	last := len(xp) - 1
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
		case v >= xp[last]:
			out[i] = fp[last]
		default:
			j := sort.SearchFloat64s(xp, v)
			if xp[j] == v {
				out[i] = fp[j]
				continue
			}
			t := (v - xp[j-1]) / (xp[j] - xp[j-1])
			out[i] = fp[j-1] + t*(fp[j]-fp[j-1])
		}
	}
	return out
}

func trapz(y, x []float64) float64 {
	sum := 0.0
	for i := 1; i < len(x); i++ {
		sum += 0.5 * (x[i] - x[i-1]) * (y[i] + y[i-1])
	}
	return sum
}
