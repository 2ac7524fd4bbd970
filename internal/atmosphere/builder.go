package atmosphere

import (
	"fmt"
	"math"

	"github.com/agbru/atmoworker/internal/pt"
)

// Result is the outcome of one build. Exactly one of Profiles and Invalid is
// set.
type Result struct {
	Profiles *Profiles
	Invalid  error
}

// Ok reports whether the build produced a usable profile.
func (r Result) Ok() bool { return r.Invalid == nil }

// Builder turns parameter vectors into Profiles.
type Builder struct {
	grid     *Grid
	index    SpeciesIndex
	ratio    []float64
	generate pt.Generator
	nPT      int

	// generator pressure axis, top of the atmosphere first
	pressure []float64
}

// NewBuilder binds a grid and a PT generator taking nPT parameters.
func NewBuilder(g *Grid, idx SpeciesIndex, generate pt.Generator, nPT int) (*Builder, error) {
	ratio, err := H2HeRatio(g, idx)
	if err != nil {
		return nil, err
	}
	return &Builder{
		grid:     g,
		index:    idx,
		ratio:    ratio,
		generate: generate,
		nPT:      nPT,
		pressure: reversed(g.Pressure),
	}, nil
}

// ParamCount is the parameter vector length the builder expects.
func (b *Builder) ParamCount() int { return b.nPT + len(b.index.Fit) }

// Build computes the profiles for params. A parameter vector of the wrong
// length or a non-physical temperature profile yields an invalid Result;
// neither is fatal.
func (b *Builder) Build(params []float64) Result {
	if len(params) != b.ParamCount() {
		return Result{Invalid: fmt.Errorf("got %d parameters, want %d", len(params), b.ParamCount())}
	}
	temp, err := b.generate(b.pressure, params[:b.nPT])
	if err != nil {
		return Result{Invalid: err}
	}
	if len(temp) != b.grid.Layers() {
		return Result{Invalid: fmt.Errorf("profile has %d layers, want %d", len(temp), b.grid.Layers())}
	}
	for l, t := range temp {
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return Result{Invalid: fmt.Errorf("%w: layer %d temperature %g", pt.ErrNonPhysical, l, t)}
		}
	}

	nSpecies := len(b.grid.Species)
	p := NewProfiles(nSpecies, b.grid.Layers())
	// generator output is top first; profiles keep file order
	tRow := p.Temperature()
	for l, t := range temp {
		tRow[len(tRow)-1-l] = t
	}
	for l, row := range b.grid.Abundances {
		for s, q := range row {
			p.rows[s+1][l] = q
		}
	}

	for i, s := range b.index.Fit {
		scale := math.Pow(10, params[b.nPT+i])
		q := p.Abundance(s)
		for l := range q {
			q[l] = b.grid.Abundances[l][s] * scale
		}
	}

	h2, he := p.Abundance(b.index.H2), p.Abundance(b.index.He)
	for l := 0; l < p.Layers(); l++ {
		residual := 1.0
		for _, s := range b.index.Metals {
			residual -= p.rows[s+1][l]
		}
		h2[l] = b.ratio[l] * residual / (1 + b.ratio[l])
		he[l] = residual / (1 + b.ratio[l])
	}
	return Result{Profiles: p}
}

func reversed(s []float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
