// Package pt generates pressure-temperature profiles from fit parameters.
//
// A Generator maps a pressure axis (bar, top of the atmosphere first) and a
// parameter slice to one temperature per layer. Generators are pure; a
// configuration that yields a non-physical profile returns ErrNonPhysical.
package pt

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonPhysical reports parameters that produce a non-physical profile.
var ErrNonPhysical = errors.New("non-physical temperature profile")

// Generator computes a temperature profile.
type Generator func(pressure, params []float64) ([]float64, error)

// Profile types.
const (
	TypeLine       = "line"
	TypeIsothermal = "isothermal"
)

// Physical constants (SI unless stated).
const (
	gravitationalG = 6.67430e-11    // m3 kg-1 s-2
	au             = 1.495978707e11 // m
	rSun           = 696000.0e3     // m
	rJup           = 71492.0e3      // m
	mJup           = 1898.3e24      // kg
)

// Args holds the stellar and planetary quantities some profile types need,
// in the units of a TEP file.
type Args struct {
	Ts   float64 // stellar temperature, K
	Rs   float64 // stellar radius, solar radii
	A    float64 // semi-major axis, AU
	Rp   float64 // planetary radius, Jupiter radii
	Mp   float64 // planetary mass, Jupiter masses
	Tint float64 // planetary internal temperature, K
}

// New returns the generator for kind together with its parameter count.
func New(kind string, args Args) (Generator, int, error) {
	switch kind {
	case TypeIsothermal:
		return isothermal, 1, nil
	case TypeLine:
		l, err := newLine(args)
		if err != nil {
			return nil, 0, err
		}
		return l.generate, 5, nil
	}
	return nil, 0, fmt.Errorf("unknown PT profile type %q (want %s or %s)", kind, TypeLine, TypeIsothermal)
}

func isothermal(pressure, params []float64) ([]float64, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("isothermal profile takes 1 parameter, got %d", len(params))
	}
	temp := make([]float64, len(pressure))
	for i := range temp {
		temp[i] = params[0]
	}
	return temp, checkPhysical(temp)
}

// checkPhysical rejects non-finite and non-positive temperatures.
func checkPhysical(temp []float64) error {
	for i, t := range temp {
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return fmt.Errorf("%w: layer %d temperature %g", ErrNonPhysical, i, t)
		}
	}
	return nil
}
