package atmosphere

import "math"

// Verdict is the bounds check outcome.
type Verdict int

const (
	Pass Verdict = iota
	OutOfBounds
)

func (v Verdict) String() string {
	if v == Pass {
		return "pass"
	}
	return "out_of_bounds"
}

// CheckBounds rejects a profile with any temperature below tmin, above tmax
// or NaN.
func CheckBounds(p *Profiles, tmin, tmax float64) Verdict {
	for _, t := range p.Temperature() {
		if math.IsNaN(t) || t < tmin || t > tmax {
			return OutOfBounds
		}
	}
	return Pass
}
