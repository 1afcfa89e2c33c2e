// Package dataset loads the MNIST handwritten digit images and serves them
// in shuffled minibatches.
package dataset

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

const (
	// ImageSize is the length of one flattened 28x28 image.
	ImageSize = Rows * Cols
	Rows      = 28
	Cols      = 28

	// NumClasses is the number of digit classes.
	NumClasses = 10

	// DefaultValidationSize is how many training images are held out.
	DefaultValidationSize = 5000
)

// DataSet is the train/validation/test split of a digit dataset.
type DataSet struct {
	Train      *Split
	Validation *Split
	Test       *Split
}

// Split is one partition of the dataset. Images hold pixel intensities in
// [0, 1] and Labels the matching one-hot class vectors.
type Split struct {
	Images [][]float64
	Labels [][]float64

	rng             *rand.Rand
	perm            []int
	index           int
	epochsCompleted int
}

// NewSplit wraps images and labels. seed drives the minibatch shuffling.
func NewSplit(images, labels [][]float64, seed uint64) *Split {
	if len(images) != len(labels) {
		panic("dataset: images and labels must have same length")
	}
	return &Split{
		Images: images,
		Labels: labels,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of examples.
func (s *Split) Len() int {
	return len(s.Images)
}

// Class returns the digit label of example i.
func (s *Split) Class(i int) int {
	return floats.MaxIdx(s.Labels[i])
}

// EpochsCompleted returns how many full passes NextBatch has made.
func (s *Split) EpochsCompleted() int {
	return s.epochsCompleted
}

// NextBatch returns the next n examples. The order is shuffled on the first
// call and again each time the data is exhausted. A batch that crosses the
// end of an epoch is filled with the remaining examples followed by the
// head of the next shuffled order.
func (s *Split) NextBatch(n int) (images, labels [][]float64) {
	total := s.Len()
	if total == 0 || n <= 0 {
		return nil, nil
	}
	if s.perm == nil {
		s.perm = s.rng.Perm(total)
	}

	images = make([][]float64, 0, n)
	labels = make([][]float64, 0, n)
	for len(images) < n {
		if s.index == total {
			s.epochsCompleted++
			s.rng.Shuffle(total, func(i, j int) {
				s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
			})
			s.index = 0
		}
		take := n - len(images)
		if rest := total - s.index; take > rest {
			take = rest
		}
		for _, idx := range s.perm[s.index : s.index+take] {
			images = append(images, s.Images[idx])
			labels = append(labels, s.Labels[idx])
		}
		s.index += take
	}
	return images, labels
}

// OneHot returns a one-hot vector of the given size with class set.
func OneHot(class, size int) []float64 {
	v := make([]float64, size)
	v[class] = 1
	return v
}
