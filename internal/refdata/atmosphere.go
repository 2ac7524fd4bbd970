package refdata

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Atmosphere is the content of a baseline atmosphere file, in file order.
type Atmosphere struct {
	Species     []string
	Pressure    []float64   // bar
	Temperature []float64   // K
	Abundances  [][]float64 // [layer][species] mole fractions
}

// ReadAtmosphere reads an atmosphere file.
//
// The file carries a "#SPECIES" marker followed by one line of species names
// and a "#TEADATA" marker followed by data rows. Each row holds pressure,
// temperature and one abundance per species, optionally preceded by a radius
// column. Other "#" lines are comments; key/value header lines such as the
// unit declarations ("ur", "up", "q") are ignored.
func ReadAtmosphere(path string) (*Atmosphere, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	atm, err := ParseAtmosphere(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return atm, nil
}

// ParseAtmosphere parses the atmosphere format described in ReadAtmosphere.
func ParseAtmosphere(r io.Reader) (*Atmosphere, error) {
	lines, err := scanLines(r)
	if err != nil {
		return nil, err
	}

	atm := &Atmosphere{}
	const (
		header = iota
		species
		data
	)
	section := header
	for _, l := range lines {
		if strings.HasPrefix(l.text, "#") {
			switch strings.ToUpper(strings.TrimSpace(l.text[1:])) {
			case "SPECIES":
				section = species
			case "TEADATA":
				if atm.Species == nil {
					return nil, fmt.Errorf("line %d: #TEADATA before #SPECIES", l.num)
				}
				section = data
			}
			continue
		}

		switch section {
		case header:
			// Unit and format declarations; not needed by the worker.
		case species:
			atm.Species = append([]string(nil), l.fields...)
			section = header
		case data:
			row, err := parseRow(l)
			if err != nil {
				return nil, err
			}
			if err := atm.appendRow(row, l.num); err != nil {
				return nil, err
			}
		}
	}

	if len(atm.Species) == 0 {
		return nil, fmt.Errorf("no species declared")
	}
	if len(atm.Pressure) == 0 {
		return nil, fmt.Errorf("no atmospheric layers")
	}
	return atm, nil
}

func (a *Atmosphere) appendRow(row []float64, num int) error {
	n := len(a.Species)
	switch len(row) {
	case n + 2:
	case n + 3:
		row = row[1:] // leading radius column
	default:
		return fmt.Errorf("line %d: expected %d or %d columns for %d species, got %d", num, n+2, n+3, n, len(row))
	}
	if row[0] <= 0 {
		return fmt.Errorf("line %d: pressure must be positive, got %g", num, row[0])
	}
	a.Pressure = append(a.Pressure, row[0])
	a.Temperature = append(a.Temperature, row[1])
	a.Abundances = append(a.Abundances, append([]float64(nil), row[2:]...))
	return nil
}
