package fleet

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// rng wraps a seeded source so every draw in the simulator is reproducible.
// It is not safe for concurrent use; callers hold the simulator lock.
type rng struct {
	src rand.Source
	r   *rand.Rand
}

func newRNG(seed uint64) *rng {
	src := rand.NewSource(seed)
	return &rng{src: src, r: rand.New(src)}
}

// child derives an independent generator, one per vehicle.
func (g *rng) child() *rng {
	return newRNG(g.r.Uint64())
}

func (g *rng) float() float64 {
	return g.r.Float64()
}

// between draws uniformly from r.
func (g *rng) between(r Range) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return distuv.Uniform{Min: r.Min, Max: r.Max, Src: g.src}.Rand()
}

// intBetween draws an integer in [floor(Min), floor(Max)].
func (g *rng) intBetween(r Range) int {
	lo, hi := int(math.Floor(r.Min)), int(math.Floor(r.Max))
	if hi <= lo {
		return lo
	}
	return lo + g.r.Intn(hi-lo+1)
}

// chance returns true with probability p.
func (g *rng) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return g.r.Float64() < p
}

// classPicker performs the weighted class draw against a distribution.
type classPicker struct {
	dist distuv.Categorical
}

func newClassPicker(weights map[Class]float64, g *rng) classPicker {
	w := make([]float64, len(Classes))
	for i, c := range Classes {
		w[i] = weights[c]
	}
	return classPicker{dist: distuv.NewCategorical(w, g.src)}
}

func (p classPicker) pick() Class {
	return Classes[int(p.dist.Rand())]
}
