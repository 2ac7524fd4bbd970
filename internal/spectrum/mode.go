// Package spectrum reduces a simulated spectrum to band-integrated
// observables, one per instrument filter.
package spectrum

import (
	apperrors "github.com/agbru/atmoworker/internal/errors"
)

// Mode selects how a spectrum is turned into an observable.
type Mode int

const (
	// Transit integrates the modulation spectrum directly.
	Transit Mode = iota + 1
	// Eclipse divides by the stellar flux and scales by (Rp/Rs)^2 first.
	Eclipse
)

// ParseMode maps a solution name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "transit":
		return Transit, nil
	case "eclipse":
		return Eclipse, nil
	}
	return 0, apperrors.NewConfigError("unknown solution mode %q (want transit or eclipse)", s)
}

func (m Mode) String() string {
	switch m {
	case Transit:
		return "transit"
	case Eclipse:
		return "eclipse"
	}
	return "unknown"
}
