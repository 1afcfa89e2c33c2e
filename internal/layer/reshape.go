package layer

// Flatten reshapes a [channels, height, width] map into a vector, in
// channel-major order. The data is already laid out that way, so Forward
// and Backward only copy.
type Flatten struct {
	in        Shape
	outputBuf []float64
	gradInBuf []float64
}

// NewFlatten creates a flatten layer for inputs of shape in.
func NewFlatten(in Shape) *Flatten {
	return &Flatten{
		in:        in,
		outputBuf: make([]float64, in.Size()),
		gradInBuf: make([]float64, in.Size()),
	}
}

func (f *Flatten) Forward(x []float64) []float64 {
	copy(f.outputBuf, x)
	return f.outputBuf
}

func (f *Flatten) Backward(grad []float64) []float64 {
	copy(f.gradInBuf, grad)
	return f.gradInBuf
}

func (f *Flatten) Params() []float64    { return nil }
func (f *Flatten) Gradients() []float64 { return nil }
func (f *Flatten) ClearGradients()      {}
func (f *Flatten) InShape() Shape       { return f.in }
func (f *Flatten) OutShape() Shape      { return Vector(f.in.Size()) }
func (f *Flatten) Name() string         { return "" }
func (f *Flatten) Clone() Layer         { return NewFlatten(f.in) }
