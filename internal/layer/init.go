package layer

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// truncation is the number of standard deviations past which a draw is
// rejected and taken again.
const truncation = 2

// Initializer draws initial layer parameters from a seeded source, so two
// networks built with the same seed start from identical weights.
type Initializer struct {
	src rand.Source
}

// NewInitializer returns an Initializer seeded with seed.
func NewInitializer(seed uint64) *Initializer {
	return &Initializer{src: rand.NewSource(seed)}
}

// TruncatedNormal fills dst with draws from N(0, stddev^2), re-drawing any
// value further than two standard deviations from the mean.
func (in *Initializer) TruncatedNormal(dst []float64, stddev float64) {
	dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: in.src}
	limit := truncation * stddev
	for i := range dst {
		v := dist.Rand()
		for v > limit || v < -limit {
			v = dist.Rand()
		}
		dst[i] = v
	}
}
