package refdata

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TEP holds the named values of a transiting-exoplanet parameter file.
// Each name maps to the value followed by any uncertainty columns.
type TEP map[string][]string

// ReadTEP reads a TEP file: "name value [errors...]" lines, "#" comments.
func ReadTEP(path string) (TEP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tep, err := ParseTEP(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tep, nil
}

// ParseTEP parses TEP content.
func ParseTEP(r io.Reader) (TEP, error) {
	lines, err := scanLines(r)
	if err != nil {
		return nil, err
	}
	tep := make(TEP)
	for _, l := range lines {
		if strings.HasPrefix(l.text, "#") {
			continue
		}
		if len(l.fields) < 2 {
			return nil, fmt.Errorf("line %d: %q has no value", l.num, l.fields[0])
		}
		tep[l.fields[0]] = l.fields[1:]
	}
	return tep, nil
}

// Float returns the first value of name as a float.
func (t TEP) Float(name string) (float64, error) {
	values, ok := t[name]
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("TEP field %q not found", name)
	}
	v, err := strconv.ParseFloat(values[0], 64)
	if err != nil {
		return 0, fmt.Errorf("TEP field %q: invalid number %q", name, values[0])
	}
	return v, nil
}

// Planet is the subset of TEP values the worker uses, in file units.
type Planet struct {
	Ts       float64 // stellar effective temperature, K
	Rs       float64 // stellar radius, solar radii
	A        float64 // semi-major axis, AU
	Rp       float64 // planetary radius, Jupiter radii
	Mp       float64 // planetary mass, Jupiter masses
	LoggStar float64 // log10 stellar surface gravity, cgs
}

// Planet extracts the required fields.
func (t TEP) Planet() (Planet, error) {
	var p Planet
	fields := []struct {
		name string
		dst  *float64
	}{
		{"Ts", &p.Ts}, {"Rs", &p.Rs}, {"a", &p.A},
		{"Rp", &p.Rp}, {"Mp", &p.Mp}, {"loggstar", &p.LoggStar},
	}
	for _, f := range fields {
		v, err := t.Float(f.name)
		if err != nil {
			return Planet{}, err
		}
		*f.dst = v
	}
	if p.Rs <= 0 || p.Rp <= 0 || p.A <= 0 || p.Mp <= 0 || p.Ts <= 0 {
		return Planet{}, fmt.Errorf("TEP values Ts, Rs, a, Rp and Mp must be positive")
	}
	return p, nil
}
