// Package loss provides loss functions for classification.
package loss

import (
	"math"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"gonum.org/v1/gonum/floats"
)

// Loss is a loss function with derivative, evaluated on one sample.
type Loss interface {
	Forward(yPred, yTrue []float64) float64
	Backward(yPred, yTrue []float64) []float64
}

// BackwardInPlacer is an optional interface for loss functions that support
// in-place gradient computation to avoid allocations.
type BackwardInPlacer interface {
	BackwardInPlace(yPred, yTrue, grad []float64)
}

// SoftmaxCrossEntropy is the cross entropy between a one-hot (or any
// probability) target and softmax(logits). It takes raw logits.
type SoftmaxCrossEntropy struct{}

// Forward computes -sum(y_true * log softmax(logits)) using log-sum-exp.
func (s SoftmaxCrossEntropy) Forward(logits, yTrue []float64) float64 {
	n := len(logits)
	if n != len(yTrue) {
		panic("SoftmaxCrossEntropy: logits and target must have same length")
	}

	maxVal := floats.Max(logits)
	var sumExp float64
	for _, z := range logits {
		sumExp += math.Exp(z - maxVal)
	}
	logSumExp := maxVal + math.Log(sumExp)

	var loss float64
	for i, y := range yTrue {
		if y != 0 {
			loss -= y * (logits[i] - logSumExp)
		}
	}
	return loss
}

// Backward computes dL/dlogits = softmax(logits) - y_true.
func (s SoftmaxCrossEntropy) Backward(logits, yTrue []float64) []float64 {
	grad := make([]float64, len(logits))
	s.BackwardInPlace(logits, yTrue, grad)
	return grad
}

// BackwardInPlace computes the gradient and stores it in grad.
func (s SoftmaxCrossEntropy) BackwardInPlace(logits, yTrue, grad []float64) {
	n := len(logits)
	if n != len(yTrue) || n != len(grad) {
		panic("SoftmaxCrossEntropy: slices must have same length")
	}
	activations.Softmax{}.ActivateBatch(grad, logits)
	floats.Sub(grad, yTrue)
}
