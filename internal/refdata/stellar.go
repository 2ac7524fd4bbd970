package refdata

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// StellarModel is a stellar spectrum on an ascending wavenumber axis.
type StellarModel struct {
	Wavenumber []float64 // cm-1, ascending
	Flux       []float64 // per unit wavenumber
	Teff       float64   // temperature of the selected grid model
	Logg       float64   // log g of the selected grid model
}

// ReadKurucz reads a stellar model grid and returns the model closest to
// (teff, logg): the nearest temperature first, then the nearest gravity.
//
// Each model starts with a "TEFF <K> GRAVITY <log g>" header line followed by
// "wavelength_nm flux" rows, flux given per unit wavenumber.
func ReadKurucz(path string, teff, logg float64) (*StellarModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ParseKurucz(f, teff, logg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseKurucz parses grid content and selects the closest model.
func ParseKurucz(r io.Reader, teff, logg float64) (*StellarModel, error) {
	lines, err := scanLines(r)
	if err != nil {
		return nil, err
	}

	var (
		models []*StellarModel
		cur    *StellarModel
	)
	for _, l := range lines {
		if strings.HasPrefix(l.text, "#") {
			continue
		}
		if strings.EqualFold(l.fields[0], "TEFF") {
			t, g, err := parseModelHeader(l)
			if err != nil {
				return nil, err
			}
			cur = &StellarModel{Teff: t, Logg: g}
			models = append(models, cur)
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: data before the first TEFF header", l.num)
		}
		row, err := parseRow(l)
		if err != nil {
			return nil, err
		}
		if len(row) < 2 || row[0] <= 0 {
			return nil, fmt.Errorf("line %d: expected positive wavelength and flux", l.num)
		}
		cur.Wavenumber = append(cur.Wavenumber, 1e7/row[0])
		cur.Flux = append(cur.Flux, row[1])
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no stellar models found")
	}

	best := models[0]
	for _, m := range models[1:] {
		dt, bdt := math.Abs(m.Teff-teff), math.Abs(best.Teff-teff)
		if dt < bdt || (dt == bdt && math.Abs(m.Logg-logg) < math.Abs(best.Logg-logg)) {
			best = m
		}
	}
	if len(best.Wavenumber) < 2 {
		return nil, fmt.Errorf("model TEFF=%g GRAVITY=%g has fewer than two samples", best.Teff, best.Logg)
	}
	// Ascending wavelength rows become descending wavenumbers.
	if best.Wavenumber[0] > best.Wavenumber[len(best.Wavenumber)-1] {
		reverse(best.Wavenumber)
		reverse(best.Flux)
	}
	return best, nil
}

func parseModelHeader(l line) (float64, float64, error) {
	if len(l.fields) < 4 || !strings.EqualFold(l.fields[2], "GRAVITY") {
		return 0, 0, fmt.Errorf("line %d: expected \"TEFF <K> GRAVITY <logg>\"", l.num)
	}
	t, err := strconv.ParseFloat(strings.TrimSuffix(l.fields[1], "."), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid TEFF %q", l.num, l.fields[1])
	}
	g, err := strconv.ParseFloat(l.fields[3], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid GRAVITY %q", l.num, l.fields[3])
	}
	return t, g, nil
}

// Physical constants in cgs units.
const (
	planckH   = 6.62607015e-27 // erg s
	lightC    = 2.99792458e10  // cm s-1
	boltzmann = 1.380649e-16   // erg K-1
)

// Blackbody returns a Planck stellar model at teff sampled on wn (cm-1,
// ascending), flux per unit wavenumber. It stands in for a model grid when
// none is configured.
func Blackbody(teff float64, wn []float64) *StellarModel {
	m := &StellarModel{
		Wavenumber: append([]float64(nil), wn...),
		Flux:       make([]float64, len(wn)),
		Teff:       teff,
	}
	for i, k := range wn {
		x := planckH * lightC * k / (boltzmann * teff)
		m.Flux[i] = math.Pi * 2 * planckH * lightC * lightC * k * k * k / math.Expm1(x)
	}
	return m
}
