package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"gonum.org/v1/gonum/floats"
)

// Conv2D implements a stride-1 2D convolution with SAME zero padding, so the
// output keeps the input's height and width.
type Conv2D struct {
	name        string
	in          Shape
	outChannels int
	kernelH     int
	kernelW     int

	// Zero padding before the first row/column. Odd remainders go to the
	// bottom and right edges.
	padTop  int
	padLeft int

	// Weights: [outChannels, inChannels, kernelH, kernelW], then biases
	params  []float64
	weights []float64
	biases  []float64

	activation activations.Activation

	grads       []float64
	gradWeights []float64
	gradBiases  []float64

	// Pre-allocated buffers
	savedInput []float64
	preActBuf  []float64 // z = w*x + b
	outputBuf  []float64 // activation(z)
	dzBuf      []float64
	gradInBuf  []float64
}

// NewConv2D creates a convolution over inputs of shape in producing
// numFilters feature maps with a kernel of kernel[0] rows by kernel[1]
// columns. Weights are drawn from a truncated normal with stddev 0.03 and
// biases with stddev 1.0.
func NewConv2D(in Shape, numFilters int, kernel [2]int, act activations.Activation,
	name string, init *Initializer) *Conv2D {

	c := newConv2D(in, numFilters, kernel, act, name)
	init.TruncatedNormal(c.weights, 0.03)
	init.TruncatedNormal(c.biases, 1.0)
	return c
}

func newConv2D(in Shape, numFilters int, kernel [2]int, act activations.Activation, name string) *Conv2D {
	if in.Size() <= 0 || numFilters <= 0 || kernel[0] <= 0 || kernel[1] <= 0 {
		panic(fmt.Sprintf("Conv2D: invalid configuration in=%v filters=%d kernel=%v", in, numFilters, kernel))
	}
	if act == nil {
		act = activations.ReLU{}
	}

	nw := numFilters * in.Channels * kernel[0] * kernel[1]
	outSize := numFilters * in.Height * in.Width
	c := &Conv2D{
		name:        name,
		in:          in,
		outChannels: numFilters,
		kernelH:     kernel[0],
		kernelW:     kernel[1],
		padTop:      (kernel[0] - 1) / 2,
		padLeft:     (kernel[1] - 1) / 2,
		activation:  act,
		params:      make([]float64, nw+numFilters),
		grads:       make([]float64, nw+numFilters),
		savedInput:  make([]float64, in.Size()),
		preActBuf:   make([]float64, outSize),
		outputBuf:   make([]float64, outSize),
		dzBuf:       make([]float64, outSize),
		gradInBuf:   make([]float64, in.Size()),
	}
	c.weights = c.params[:nw]
	c.biases = c.params[nw:]
	c.gradWeights = c.grads[:nw]
	c.gradBiases = c.grads[nw:]
	return c
}

// colRange returns the output columns [lo, hi) whose input column
// ow + kw - padLeft falls inside the image.
func (c *Conv2D) colRange(kw int) (int, int) {
	lo := c.padLeft - kw
	if lo < 0 {
		lo = 0
	}
	hi := c.in.Width + c.padLeft - kw
	if hi > c.in.Width {
		hi = c.in.Width
	}
	return lo, hi
}

// Forward performs a forward pass through the convolutional layer.
// input: flattened [inChannels, height, width]
// Returns: flattened [outChannels, height, width]
func (c *Conv2D) Forward(input []float64) []float64 {
	if len(input) != c.in.Size() {
		panic(fmt.Sprintf("Conv2D %s: input length %d, want %d", c.name, len(input), c.in.Size()))
	}
	copy(c.savedInput, input)

	height, width := c.in.Height, c.in.Width
	plane := height * width
	kernelArea := c.kernelH * c.kernelW
	ocWeightStride := c.in.Channels * kernelArea

	for oc := 0; oc < c.outChannels; oc++ {
		out := c.preActBuf[oc*plane : (oc+1)*plane]
		for i := range out {
			out[i] = c.biases[oc]
		}

		for ic := 0; ic < c.in.Channels; ic++ {
			icWeightBase := oc*ocWeightStride + ic*kernelArea
			inPlane := input[ic*plane : (ic+1)*plane]

			for kh := 0; kh < c.kernelH; kh++ {
				for kw := 0; kw < c.kernelW; kw++ {
					wVal := c.weights[icWeightBase+kh*c.kernelW+kw]
					if wVal == 0 {
						continue
					}
					lo, hi := c.colRange(kw)
					if lo >= hi {
						continue
					}
					shift := kw - c.padLeft

					for oh := 0; oh < height; oh++ {
						inH := oh + kh - c.padTop
						if inH < 0 || inH >= height {
							continue
						}
						// Stride 1: a run of output columns reads a contiguous
						// run of input columns.
						floats.AddScaled(
							out[oh*width+lo:oh*width+hi],
							wVal,
							inPlane[inH*width+lo+shift:inH*width+hi+shift],
						)
					}
				}
			}
		}

		for i, z := range out {
			c.outputBuf[oc*plane+i] = c.activation.Activate(z)
		}
	}

	return c.outputBuf
}

// Backward performs backpropagation through the convolutional layer.
// grad: gradient of loss w.r.t. activated output
// Returns: gradient of loss w.r.t. input
func (c *Conv2D) Backward(grad []float64) []float64 {
	height, width := c.in.Height, c.in.Width
	plane := height * width
	kernelArea := c.kernelH * c.kernelW
	ocWeightStride := c.in.Channels * kernelArea

	dz := c.dzBuf
	for i := range dz {
		dz[i] = grad[i] * c.activation.Derivative(c.preActBuf[i])
	}

	gradInput := c.gradInBuf
	clear(gradInput)

	for oc := 0; oc < c.outChannels; oc++ {
		dzPlane := dz[oc*plane : (oc+1)*plane]
		c.gradBiases[oc] += floats.Sum(dzPlane)

		for ic := 0; ic < c.in.Channels; ic++ {
			icWeightBase := oc*ocWeightStride + ic*kernelArea
			inPlane := c.savedInput[ic*plane : (ic+1)*plane]
			gradPlane := gradInput[ic*plane : (ic+1)*plane]

			for kh := 0; kh < c.kernelH; kh++ {
				for kw := 0; kw < c.kernelW; kw++ {
					weightIdx := icWeightBase + kh*c.kernelW + kw
					wVal := c.weights[weightIdx]
					lo, hi := c.colRange(kw)
					if lo >= hi {
						continue
					}
					shift := kw - c.padLeft

					var gw float64
					for oh := 0; oh < height; oh++ {
						inH := oh + kh - c.padTop
						if inH < 0 || inH >= height {
							continue
						}
						dzRow := dzPlane[oh*width+lo : oh*width+hi]
						inLo, inHi := inH*width+lo+shift, inH*width+hi+shift
						gw += floats.Dot(dzRow, inPlane[inLo:inHi])
						floats.AddScaled(gradPlane[inLo:inHi], wVal, dzRow)
					}
					c.gradWeights[weightIdx] += gw
				}
			}
		}
	}

	return gradInput
}

func (c *Conv2D) Params() []float64    { return c.params }
func (c *Conv2D) Gradients() []float64 { return c.grads }
func (c *Conv2D) ClearGradients()      { clear(c.grads) }
func (c *Conv2D) InShape() Shape       { return c.in }
func (c *Conv2D) Name() string         { return c.name }

// OutShape keeps the input's spatial extent with one channel per filter.
func (c *Conv2D) OutShape() Shape {
	return Shape{Channels: c.outChannels, Height: c.in.Height, Width: c.in.Width}
}

// Clone creates a deep copy of the convolutional layer.
func (c *Conv2D) Clone() Layer {
	n := newConv2D(c.in, c.outChannels, c.Kernel(), c.activation, c.name)
	copy(n.params, c.params)
	return n
}

// Kernel returns the kernel extent as [rows, columns].
func (c *Conv2D) Kernel() [2]int {
	return [2]int{c.kernelH, c.kernelW}
}

// Filters returns the number of output feature maps.
func (c *Conv2D) Filters() int {
	return c.outChannels
}

// Activation returns the activation function.
func (c *Conv2D) Activation() activations.Activation {
	return c.activation
}
