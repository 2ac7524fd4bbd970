package pt

import (
	"fmt"
	"math"
)

// line is the two-stream radiative-equilibrium profile of Line et al. (2013).
//
// Parameters: log10(kappa), log10(gamma1), log10(gamma2), alpha, beta, where
// kappa is the infrared opacity (cm2 g-1), gamma1 and gamma2 the
// visible-to-infrared opacity ratios of the two visible streams, alpha the
// partition between them and beta the irradiation efficiency.
type line struct {
	rStar float64 // m
	tStar float64 // K
	tInt  float64 // K
	sma   float64 // m
	grav  float64 // cm s-2
}

func newLine(a Args) (*line, error) {
	if a.Ts <= 0 || a.Rs <= 0 || a.A <= 0 || a.Rp <= 0 || a.Mp <= 0 {
		return nil, fmt.Errorf("line profile needs positive Ts, Rs, a, Rp and Mp")
	}
	rPlanet := a.Rp * rJup
	return &line{
		rStar: a.Rs * rSun,
		tStar: a.Ts,
		tInt:  a.Tint,
		sma:   a.A * au,
		grav:  100.0 * gravitationalG * a.Mp * mJup / (rPlanet * rPlanet),
	}, nil
}

func (l *line) generate(pressure, params []float64) ([]float64, error) {
	if len(params) != 5 {
		return nil, fmt.Errorf("line profile takes 5 parameters, got %d", len(params))
	}
	kappa := math.Pow(10, params[0])
	gamma1 := math.Pow(10, params[1])
	gamma2 := math.Pow(10, params[2])
	alpha, beta := params[3], params[4]
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: alpha %g outside [0, 1]", ErrNonPhysical, alpha)
	}

	tIrr := beta * math.Sqrt(l.rStar/(2*l.sma)) * l.tStar
	tInt4 := math.Pow(l.tInt, 4)
	tIrr4 := math.Pow(tIrr, 4)

	temp := make([]float64, len(pressure))
	for i, p := range pressure {
		// Grey infrared optical depth; pressure converted from bar to barye.
		tau := kappa * (p * 1e6) / l.grav
		xi1 := xi(gamma1, tau)
		xi2 := xi(gamma2, tau)
		temp[i] = math.Pow(0.75*(tInt4*(2.0/3.0+tau)+
			tIrr4*(1-alpha)*xi1+
			tIrr4*alpha*xi2), 0.25)
	}
	return temp, checkPhysical(temp)
}

func xi(gamma, tau float64) float64 {
	return (2.0 / 3.0) * (1 + (1/gamma)*(1+(0.5*gamma*tau-1)*math.Exp(-gamma*tau)) +
		gamma*(1-0.5*tau*tau)*expn(2, gamma*tau))
}
