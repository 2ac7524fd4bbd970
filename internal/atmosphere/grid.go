package atmosphere

import (
	"fmt"

	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/refdata"
)

// Grid is the baseline atmosphere in file layer order.
type Grid struct {
	Species    []string
	Pressure   []float64   // bar, one per layer
	Abundances [][]float64 // [layer][species]
}

// NewGrid copies an atmosphere file into a grid.
func NewGrid(atm *refdata.Atmosphere) (*Grid, error) {
	nLayers := len(atm.Pressure)
	if nLayers == 0 || len(atm.Abundances) != nLayers {
		return nil, apperrors.NewConfigError("atmosphere has %d pressures and %d abundance rows", nLayers, len(atm.Abundances))
	}
	g := &Grid{
		Species:    append([]string(nil), atm.Species...),
		Pressure:   append([]float64(nil), atm.Pressure...),
		Abundances: make([][]float64, nLayers),
	}
	for l, row := range atm.Abundances {
		if len(row) != len(g.Species) {
			return nil, apperrors.NewConfigError("atmosphere layer %d has %d abundances for %d species", l, len(row), len(g.Species))
		}
		g.Abundances[l] = append([]float64(nil), row...)
	}
	return g, nil
}

// Layers returns the number of atmospheric layers.
func (g *Grid) Layers() int { return len(g.Pressure) }

// ProfileSize is the length of a flattened Profiles payload.
func (g *Grid) ProfileSize() int { return g.Layers() * (len(g.Species) + 1) }

// SpeciesIndex locates the species the builder rewrites each pass.
type SpeciesIndex struct {
	H2     int
	He     int
	Metals []int // every species except H2 and He
	Fit    []int // species being fit, in parameter order
}

// NewSpeciesIndex resolves H2, He, the metals and the fit molecules. Every
// fit molecule must exist in the grid.
func NewSpeciesIndex(g *Grid, molfit []string) (SpeciesIndex, error) {
	idx := SpeciesIndex{H2: -1, He: -1}
	lookup := make(map[string]int, len(g.Species))
	for i, s := range g.Species {
		lookup[s] = i
		switch s {
		case "H2":
			idx.H2 = i
		case "He":
			idx.He = i
		default:
			idx.Metals = append(idx.Metals, i)
		}
	}
	if idx.H2 < 0 || idx.He < 0 {
		return SpeciesIndex{}, apperrors.NewConfigError("atmosphere must contain H2 and He (species: %v)", g.Species)
	}
	for _, m := range molfit {
		i, ok := lookup[m]
		if !ok {
			return SpeciesIndex{}, apperrors.NewConfigError("fit molecule %q is not in the atmosphere (species: %v)", m, g.Species)
		}
		if i == idx.H2 || i == idx.He {
			return SpeciesIndex{}, apperrors.NewConfigError("fit molecule %q is derived from the metal residual", m)
		}
		idx.Fit = append(idx.Fit, i)
	}
	return idx, nil
}

// H2HeRatio returns the per-layer baseline H2:He abundance ratio.
func H2HeRatio(g *Grid, idx SpeciesIndex) ([]float64, error) {
	ratio := make([]float64, g.Layers())
	for l, row := range g.Abundances {
		if row[idx.He] <= 0 {
			return nil, apperrors.NewConfigError("layer %d: He abundance must be positive to fix the H2:He ratio", l)
		}
		ratio[l] = row[idx.H2] / row[idx.He]
	}
	return ratio, nil
}

// Profiles is the per-pass atmospheric state, [species+1][layer].
type Profiles struct {
	rows   [][]float64
	layers int
}

// NewProfiles allocates a zeroed matrix.
func NewProfiles(species, layers int) *Profiles {
	p := &Profiles{rows: make([][]float64, species+1), layers: layers}
	for i := range p.rows {
		p.rows[i] = make([]float64, layers)
	}
	return p
}

// Temperature returns row 0.
func (p *Profiles) Temperature() []float64 { return p.rows[0] }

// Abundance returns the row of species s.
func (p *Profiles) Abundance(s int) []float64 { return p.rows[s+1] }

// Species returns the number of abundance rows.
func (p *Profiles) Species() int { return len(p.rows) - 1 }

// Layers returns the number of layers.
func (p *Profiles) Layers() int { return p.layers }

// Flatten returns the row-major payload sent to the transfer engine.
func (p *Profiles) Flatten() []float64 {
	out := make([]float64, 0, len(p.rows)*p.layers)
	for _, r := range p.rows {
		out = append(out, r...)
	}
	return out
}

// String summarises the matrix shape.
func (p *Profiles) String() string {
	return fmt.Sprintf("profiles[%d species x %d layers]", p.Species(), p.layers)
}
