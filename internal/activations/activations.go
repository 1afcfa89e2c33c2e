// Package activations provides activation functions for conv and dense layers.
package activations

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) given the pre-activation value x
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Linear is the identity activation. Used where a layer's raw output is
// consumed directly, such as the logits layer.
type Linear struct{}

func (l Linear) Activate(x float64) float64   { return x }
func (l Linear) Derivative(x float64) float64 { return 1 }

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}

// Softmax is a vector activation. It has no element-wise form.
type Softmax struct{}

// ActivateBatch writes softmax(x) into dst and returns it. dst may alias x.
// The maximum is subtracted first so large logits do not overflow.
func (s Softmax) ActivateBatch(dst, x []float64) []float64 {
	if len(dst) != len(x) {
		panic("Softmax: dst and x must have same length")
	}
	maxVal := floats.Max(x)
	for i := range x {
		dst[i] = math.Exp(x[i] - maxVal)
	}
	floats.Scale(1/floats.Sum(dst), dst)
	return dst
}

// Name returns the registry name of an activation, used by checkpoints.
func Name(act Activation) string {
	switch act.(type) {
	case ReLU:
		return "relu"
	case Linear:
		return "linear"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	default:
		return ""
	}
}

// ByName is the inverse of Name.
func ByName(name string) (Activation, error) {
	switch name {
	case "relu":
		return ReLU{}, nil
	case "linear":
		return Linear{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	}
	return nil, errors.Errorf("unknown activation %q", name)
}
