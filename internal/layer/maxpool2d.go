package layer

import (
	"fmt"
	"math"
)

// poolStride is fixed: every pooling layer halves the spatial extent.
const poolStride = 2

// MaxPool2D implements 2D max pooling with stride 2 and SAME padding.
// Output height and width are ceil(in/2). Padded cells never win the max.
// Argmax indices are kept for the backward pass.
type MaxPool2D struct {
	in      Shape
	out     Shape
	poolH   int
	poolW   int
	padTop  int
	padLeft int

	outputBuf []float64
	gradInBuf []float64
	argmaxBuf []int // Index of the max input for each output position
}

// NewMaxPool2D creates a max pooling layer over inputs of shape in with a
// window of pool[0] rows by pool[1] columns.
func NewMaxPool2D(in Shape, pool [2]int) *MaxPool2D {
	if in.Size() <= 0 || pool[0] <= 0 || pool[1] <= 0 {
		panic(fmt.Sprintf("MaxPool2D: invalid configuration in=%v pool=%v", in, pool))
	}
	outH, padTop := samePool(in.Height, pool[0])
	outW, padLeft := samePool(in.Width, pool[1])
	out := Shape{Channels: in.Channels, Height: outH, Width: outW}

	return &MaxPool2D{
		in:        in,
		out:       out,
		poolH:     pool[0],
		poolW:     pool[1],
		padTop:    padTop,
		padLeft:   padLeft,
		outputBuf: make([]float64, out.Size()),
		gradInBuf: make([]float64, in.Size()),
		argmaxBuf: make([]int, out.Size()),
	}
}

// samePool returns the output extent and leading padding of a SAME pooling
// along one axis.
func samePool(in, window int) (out, padBefore int) {
	out = (in + poolStride - 1) / poolStride
	total := (out-1)*poolStride + window - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// Forward performs a forward pass through the max pooling layer.
func (m *MaxPool2D) Forward(input []float64) []float64 {
	if len(input) != m.in.Size() {
		panic(fmt.Sprintf("MaxPool2D: input length %d, want %d", len(input), m.in.Size()))
	}

	inH, inW := m.in.Height, m.in.Width
	outH, outW := m.out.Height, m.out.Width

	for c := 0; c < m.in.Channels; c++ {
		channelOffset := c * inH * inW
		outputOffset := c * outH * outW

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				maxVal := math.Inf(-1)
				maxIdx := -1

				for kh := 0; kh < m.poolH; kh++ {
					h := oh*poolStride + kh - m.padTop
					if h < 0 || h >= inH {
						continue
					}
					for kw := 0; kw < m.poolW; kw++ {
						w := ow*poolStride + kw - m.padLeft
						if w < 0 || w >= inW {
							continue
						}
						idx := channelOffset + h*inW + w
						if input[idx] > maxVal {
							maxVal = input[idx]
							maxIdx = idx
						}
					}
				}

				pos := outputOffset + oh*outW + ow
				m.outputBuf[pos] = maxVal
				m.argmaxBuf[pos] = maxIdx
			}
		}
	}

	return m.outputBuf
}

// Backward passes each output gradient to the input that won the max.
func (m *MaxPool2D) Backward(grad []float64) []float64 {
	gradIn := m.gradInBuf
	for i := range gradIn {
		gradIn[i] = 0
	}
	for pos, maxIdx := range m.argmaxBuf {
		if maxIdx >= 0 {
			gradIn[maxIdx] += grad[pos]
		}
	}
	return gradIn
}

// MaxPool2D has no parameters.
func (m *MaxPool2D) Params() []float64    { return nil }
func (m *MaxPool2D) Gradients() []float64 { return nil }
func (m *MaxPool2D) ClearGradients()      {}
func (m *MaxPool2D) InShape() Shape       { return m.in }
func (m *MaxPool2D) OutShape() Shape      { return m.out }
func (m *MaxPool2D) Name() string         { return "" }

// Clone creates a copy of the pooling layer with fresh buffers.
func (m *MaxPool2D) Clone() Layer {
	return NewMaxPool2D(m.in, m.Pool())
}

// Pool returns the window extent as [rows, columns].
func (m *MaxPool2D) Pool() [2]int {
	return [2]int{m.poolH, m.poolW}
}

// Argmax returns the argmax indices of the last forward pass.
func (m *MaxPool2D) Argmax() []int {
	return m.argmaxBuf
}
