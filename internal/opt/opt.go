// Package opt provides optimization algorithms.
package opt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer updates network parameters in place from their gradients.
//
// A training step calls Begin once, then StepInPlace for every parameter
// group. slot identifies the group across steps so stateful optimizers can
// keep per-parameter moments.
type Optimizer interface {
	Begin()
	StepInPlace(slot int, params, gradients []float64)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	LR float64
}

// NewSGD creates a plain gradient descent optimizer.
func NewSGD(learningRate float64) *SGD {
	return &SGD{LR: learningRate}
}

func (s *SGD) Begin() {}

// StepInPlace updates params in-place: params = params - lr * gradients
func (s *SGD) StepInPlace(slot int, params, gradients []float64) {
	floats.AddScaled(params, -s.LR, gradients)
}

func (s *SGD) LearningRate() float64       { return s.LR }
func (s *SGD) SetLearningRate(lr float64) { s.LR = lr }

// Adam optimizer with bias-corrected first and second moments.
type Adam struct {
	LR      float64
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	t int
	m map[int][]float64
	v map[int][]float64
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LR:      learningRate,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		m:       make(map[int][]float64),
		v:       make(map[int][]float64),
	}
}

// Begin advances the timestep used for bias correction.
func (a *Adam) Begin() {
	a.t++
}

// StepInPlace applies one Adam update to the parameter group in slot:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g^2
//	p -= lr * sqrt(1-b2^t)/(1-b1^t) * m / (sqrt(v) + eps)
func (a *Adam) StepInPlace(slot int, params, gradients []float64) {
	if len(params) == 0 {
		return
	}
	if a.t == 0 {
		a.t = 1
	}
	if a.m == nil {
		a.m = make(map[int][]float64)
		a.v = make(map[int][]float64)
	}
	m, ok := a.m[slot]
	if !ok || len(m) != len(params) {
		m = make([]float64, len(params))
		a.m[slot] = m
		a.v[slot] = make([]float64, len(params))
	}
	v := a.v[slot]

	t := float64(a.t)
	lrT := a.LR * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	for i, g := range gradients {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		params[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
	}
}

func (a *Adam) LearningRate() float64       { return a.LR }
func (a *Adam) SetLearningRate(lr float64) { a.LR = lr }

// Steps returns the number of optimization steps taken.
func (a *Adam) Steps() int { return a.t }
