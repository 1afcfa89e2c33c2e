// Package layer provides the convolution, pooling, reshape and dense layers
// a digit classifier is stacked from.
package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"gonum.org/v1/gonum/floats"
)

// Shape is the [channels, height, width] extent of a layer's output.
// A flat vector of n values is Shape{n, 1, 1}.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

// Vector returns the shape of a flat vector of n values.
func Vector(n int) Shape {
	return Shape{Channels: n, Height: 1, Width: 1}
}

// Size returns the number of values in the shape.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

// Spatial reports whether the shape still has height and width.
func (s Shape) Spatial() bool {
	return s.Height > 1 || s.Width > 1
}

func (s Shape) String() string {
	if !s.Spatial() {
		return fmt.Sprintf("(%d)", s.Channels)
	}
	return fmt.Sprintf("(%d, %d, %d)", s.Channels, s.Height, s.Width)
}

// Layer is a neural network layer operating on one sample at a time.
type Layer interface {
	// Forward computes the layer output. The returned slice is owned by the
	// layer and is overwritten by the next call.
	Forward(x []float64) []float64

	// Backward takes dL/d(output) for the last Forward input and returns
	// dL/d(input). Parameter gradients accumulate until ClearGradients.
	Backward(grad []float64) []float64

	// Params returns the live parameter slice (weights then biases).
	Params() []float64

	// Gradients returns the live gradient slice, aligned with Params.
	Gradients() []float64

	ClearGradients()

	InShape() Shape
	OutShape() Shape

	// Name is the name the layer was created with, empty for layers
	// without parameters.
	Name() string

	// Clone returns a copy with its own parameters and buffers.
	Clone() Layer
}

// Dense is a fully connected layer.
// Weights are stored row-major after each other, followed by biases:
// weight for output o, input i is at params[o*in + i].
type Dense struct {
	name    string
	act     activations.Activation
	inSize  int
	outSize int

	params  []float64
	weights []float64
	biases  []float64

	grads     []float64
	gradW     []float64
	gradB     []float64
	inputBuf  []float64
	preActBuf []float64
	outputBuf []float64
	dzBuf     []float64
	gradInBuf []float64
}

// NewDense creates a dense layer with in inputs and out outputs.
// Weights are drawn from a truncated normal with stddev 0.03 and biases
// with stddev 0.01.
func NewDense(in, out int, act activations.Activation, name string, init *Initializer) *Dense {
	d := newDense(in, out, act, name)
	init.TruncatedNormal(d.weights, 0.03)
	init.TruncatedNormal(d.biases, 0.01)
	return d
}

func newDense(in, out int, act activations.Activation, name string) *Dense {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("Dense: invalid size %dx%d", in, out))
	}
	if act == nil {
		act = activations.ReLU{}
	}
	d := &Dense{
		name:      name,
		act:       act,
		inSize:    in,
		outSize:   out,
		params:    make([]float64, out*in+out),
		grads:     make([]float64, out*in+out),
		inputBuf:  make([]float64, in),
		preActBuf: make([]float64, out),
		outputBuf: make([]float64, out),
		dzBuf:     make([]float64, out),
		gradInBuf: make([]float64, in),
	}
	d.weights = d.params[:out*in]
	d.biases = d.params[out*in:]
	d.gradW = d.grads[:out*in]
	d.gradB = d.grads[out*in:]
	return d
}

// Forward computes act(Wx + b).
func (d *Dense) Forward(x []float64) []float64 {
	if len(x) != d.inSize {
		panic(fmt.Sprintf("Dense %s: input length %d, want %d", d.name, len(x), d.inSize))
	}
	copy(d.inputBuf, x)

	in := d.inSize
	for o := 0; o < d.outSize; o++ {
		z := floats.Dot(d.weights[o*in:(o+1)*in], d.inputBuf) + d.biases[o]
		d.preActBuf[o] = z
		d.outputBuf[o] = d.act.Activate(z)
	}
	return d.outputBuf
}

// Logits returns the pre-activation output of the last Forward call.
func (d *Dense) Logits() []float64 {
	return d.preActBuf
}

// Backward accumulates weight and bias gradients and returns dL/dx.
func (d *Dense) Backward(grad []float64) []float64 {
	dz := d.dzBuf
	for o := 0; o < d.outSize; o++ {
		dz[o] = grad[o] * d.act.Derivative(d.preActBuf[o])
	}
	return d.backward(dz)
}

// BackwardLogits backpropagates a gradient taken with respect to the
// pre-activation output, skipping the activation derivative.
func (d *Dense) BackwardLogits(grad []float64) []float64 {
	copy(d.dzBuf, grad)
	return d.backward(d.dzBuf)
}

func (d *Dense) backward(dz []float64) []float64 {
	in := d.inSize
	floats.Add(d.gradB, dz)

	gradIn := d.gradInBuf
	clear(gradIn)
	for o := 0; o < d.outSize; o++ {
		if dz[o] == 0 {
			continue
		}
		floats.AddScaled(d.gradW[o*in:(o+1)*in], dz[o], d.inputBuf)
		floats.AddScaled(gradIn, dz[o], d.weights[o*in:(o+1)*in])
	}
	return gradIn
}

func (d *Dense) Params() []float64    { return d.params }
func (d *Dense) Gradients() []float64 { return d.grads }
func (d *Dense) ClearGradients()      { clear(d.grads) }
func (d *Dense) InShape() Shape       { return Vector(d.inSize) }
func (d *Dense) OutShape() Shape      { return Vector(d.outSize) }
func (d *Dense) Name() string         { return d.name }

// Clone creates a deep copy of the dense layer.
func (d *Dense) Clone() Layer {
	c := newDense(d.inSize, d.outSize, d.act, d.name)
	copy(c.params, d.params)
	return c
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation { return d.act }

// Weight gets a single weight at (row, col).
func (d *Dense) Weight(row, col int) float64 {
	return d.weights[row*d.inSize+col]
}

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.weights[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.biases[idx] = val
}

var (
	_ Layer = (*Dense)(nil)
	_ Layer = (*Conv2D)(nil)
	_ Layer = (*MaxPool2D)(nil)
	_ Layer = (*Flatten)(nil)
)
