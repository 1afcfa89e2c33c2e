// Package net builds and trains a convolutional digit classifier.
//
// A Network starts as a bare 28x28 single-channel input. Each Add call
// appends a layer fed by the most recently added one, so the architecture is
// the call order. Compile (or SetNetwork, which builds a standard stack and
// compiles it) attaches the softmax cross-entropy loss and the Adam
// optimizer; only then can the network be trained.
package net

import (
	"fmt"
	"io"
	"os"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/opt"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultBatchSize is the number of examples per optimization step.
	DefaultBatchSize = 50

	// Architecture constants of SetNetwork.
	initialFilters = 32
	convKernel     = 5
	poolWindow     = 2
	hiddenUnits    = 1000
)

// InputShape is the shape the flat 784-pixel images are read as.
var InputShape = layer.Shape{Channels: 1, Height: 28, Width: 28}

var (
	// ErrNetworkNotSet is returned by Train before SetNetwork or Compile.
	ErrNetworkNotSet = errors.New("network is not set")

	// ErrShape is returned when a layer does not fit the current output.
	ErrShape = errors.New("layer does not fit the current output")
)

// Network is a stack of layers with its training configuration.
type Network struct {
	learningRate float64
	epochs       int
	batchSize    int
	seed         uint64
	workers      int
	device       layer.Device
	out          io.Writer
	callbacks    []Callback

	init   *layer.Initializer
	layers []layer.Layer
	specs  []LayerSpec

	// current is the output shape of the most recently added layer, or the
	// input shape when there are none.
	current layer.Shape

	loss       loss.Loss
	opt        opt.Optimizer
	configured bool
	stop       bool

	replicas [][]layer.Layer
}

// New creates an empty network that trains for epochs passes with Adam at
// the given learning rate.
func New(learningRate float64, epochs int) *Network {
	device := layer.GetDefaultDevice()
	return &Network{
		learningRate: learningRate,
		epochs:       epochs,
		batchSize:    DefaultBatchSize,
		seed:         1,
		workers:      device.Workers(),
		device:       device,
		out:          os.Stdout,
		current:      InputShape,
	}
}

// SetBatchSize sets the number of examples per optimization step.
func (n *Network) SetBatchSize(size int) {
	if size > 0 {
		n.batchSize = size
	}
}

// SetSeed seeds parameter initialization. It only affects layers added
// afterwards.
func (n *Network) SetSeed(seed uint64) {
	n.seed = seed
	n.init = nil
}

// SetWorkers sets how many goroutines share a batch. 1 runs sequentially.
func (n *Network) SetWorkers(workers int) {
	if workers > 0 {
		n.workers = workers
	}
}

// SetOutput redirects progress output, stdout by default.
func (n *Network) SetOutput(w io.Writer) {
	n.out = w
}

// AddCallback registers a training callback.
func (n *Network) AddCallback(cb Callback) {
	n.callbacks = append(n.callbacks, cb)
}

// Device returns the device the network computes on.
func (n *Network) Device() layer.Device { return n.device }

// LearningRate returns the learning rate the optimizer is created with.
func (n *Network) LearningRate() float64 { return n.learningRate }

// Epochs returns how many passes Train makes over the training split.
func (n *Network) Epochs() int { return n.epochs }

// BatchSize returns the number of examples per optimization step.
func (n *Network) BatchSize() int { return n.batchSize }

// Layers returns the network's layers in order.
func (n *Network) Layers() []layer.Layer { return n.layers }

// OutputShape returns the output shape of the last layer added.
func (n *Network) OutputShape() layer.Shape { return n.current }

// Configured reports whether the network has a loss and can be trained.
func (n *Network) Configured() bool { return n.configured }

// Optimizer returns the optimizer, nil until the network is configured.
func (n *Network) Optimizer() opt.Optimizer { return n.opt }

func (n *Network) initializer() *layer.Initializer {
	if n.init == nil {
		n.init = layer.NewInitializer(n.seed)
	}
	return n.init
}

func (n *Network) push(l layer.Layer, spec LayerSpec) {
	n.layers = append(n.layers, l)
	n.specs = append(n.specs, spec)
	n.current = l.OutShape()
	n.configured = false
	n.replicas = nil
}

// Reset removes every layer and the loss, going back to the bare input.
func (n *Network) Reset() {
	n.layers = nil
	n.specs = nil
	n.current = InputShape
	n.loss = nil
	n.opt = nil
	n.configured = false
	n.replicas = nil
}

// AddConv appends a convolution with numFilters filters of filterShape
// over the current output, which must have numInputChannels channels.
// A nil act means ReLU.
func (n *Network) AddConv(numInputChannels, numFilters int, filterShape [2]int, name string,
	act activations.Activation) (*layer.Conv2D, error) {

	if !n.current.Spatial() {
		return nil, errors.Wrapf(ErrShape, "conv %s: input %v is not an image", name, n.current)
	}
	if numInputChannels != n.current.Channels {
		return nil, errors.Wrapf(ErrShape, "conv %s: %d input channels, current output has %d",
			name, numInputChannels, n.current.Channels)
	}
	if numFilters <= 0 || filterShape[0] <= 0 || filterShape[1] <= 0 {
		return nil, errors.Errorf("conv %s: invalid filters %d of shape %v", name, numFilters, filterShape)
	}
	if act == nil {
		act = activations.ReLU{}
	}

	c := layer.NewConv2D(n.current, numFilters, filterShape, act, name, n.initializer())
	n.push(c, LayerSpec{
		Kind:       KindConv,
		Name:       name,
		In:         numInputChannels,
		Out:        numFilters,
		Window:     filterShape,
		Activation: activations.Name(act),
	})
	return c, nil
}

// AddPool appends a stride-2 max pooling layer with a poolShape window.
func (n *Network) AddPool(poolShape [2]int) (*layer.MaxPool2D, error) {
	if !n.current.Spatial() {
		return nil, errors.Wrapf(ErrShape, "pool: input %v is not an image", n.current)
	}
	if poolShape[0] <= 0 || poolShape[1] <= 0 {
		return nil, errors.Errorf("pool: invalid window %v", poolShape)
	}

	p := layer.NewMaxPool2D(n.current, poolShape)
	n.push(p, LayerSpec{Kind: KindPool, Window: poolShape})
	return p, nil
}

// Flatten reshapes the current output into a vector. It is a no-op when
// the output already is one.
func (n *Network) Flatten() {
	if !n.current.Spatial() {
		return
	}
	n.push(layer.NewFlatten(n.current), LayerSpec{Kind: KindFlatten})
}

// AddDense appends a fully connected layer from x inputs to z outputs,
// flattening the current output first if it is still an image. The
// returned layer's Logits are its output before act is applied.
func (n *Network) AddDense(x, z int, act activations.Activation, name string) (*layer.Dense, error) {
	if z <= 0 {
		return nil, errors.Errorf("dense %s: invalid output size %d", name, z)
	}
	if x != n.current.Size() {
		return nil, errors.Wrapf(ErrShape, "dense %s: %d inputs, current output has %d values",
			name, x, n.current.Size())
	}
	n.Flatten()
	if act == nil {
		act = activations.ReLU{}
	}

	d := layer.NewDense(x, z, act, name, n.initializer())
	n.push(d, LayerSpec{
		Kind:       KindDense,
		Name:       name,
		In:         x,
		Out:        z,
		Activation: activations.Name(act),
	})
	return d, nil
}

// Compile attaches softmax cross-entropy on the last layer's logits and a
// fresh Adam optimizer. The last layer must output a vector.
func (n *Network) Compile() (loss.Loss, error) {
	if len(n.layers) == 0 {
		return nil, errors.Wrap(ErrShape, "compile: no layers")
	}
	if n.current.Spatial() {
		return nil, errors.Wrapf(ErrShape, "compile: output %v is not a vector", n.current)
	}
	n.loss = loss.SoftmaxCrossEntropy{}
	n.opt = opt.NewAdam(n.learningRate)
	n.configured = true
	n.stop = false
	return n.loss, nil
}

// SetNetwork builds the standard stack and compiles it:
//
//	numBlocks x (numConvs x conv 5x5 -> max pool 2x2)
//	-> flatten
//	-> (numConnects-1) x dense 1000 relu
//	-> dense numOutputs
//
// Filters start at 32 and double after every convolution. Layers are
// named "1", "2", ... in order. Any existing layers are discarded. The
// returned loss is softmax cross-entropy on the final dense layer's
// output before its activation.
func (n *Network) SetNetwork(numConvs, numBlocks, numConnects, numOutputs int) (loss.Loss, error) {
	if numConvs < 0 || numBlocks < 0 {
		return nil, errors.Errorf("set network: negative conv count %d or block count %d", numConvs, numBlocks)
	}
	if numConnects < 1 {
		return nil, errors.Errorf("set network: need at least one dense layer, got %d", numConnects)
	}
	if numOutputs < 1 {
		return nil, errors.Errorf("set network: need at least one output, got %d", numOutputs)
	}

	n.Reset()
	filters := initialFilters
	inputChannels := InputShape.Channels
	counter := 1
	name := func() string {
		s := fmt.Sprint(counter)
		counter++
		return s
	}

	for b := 0; b < numBlocks; b++ {
		for c := 0; c < numConvs; c++ {
			if _, err := n.AddConv(inputChannels, filters, [2]int{convKernel, convKernel}, name(), activations.ReLU{}); err != nil {
				return nil, errors.Wrap(err, "set network")
			}
			inputChannels = filters
			filters *= 2
		}
		if _, err := n.AddPool([2]int{poolWindow, poolWindow}); err != nil {
			return nil, errors.Wrap(err, "set network")
		}
	}

	n.Flatten()
	xSize := n.current.Size()
	for c := 0; c < numConnects-1; c++ {
		if _, err := n.AddDense(xSize, hiddenUnits, activations.ReLU{}, name()); err != nil {
			return nil, errors.Wrap(err, "set network")
		}
		xSize = hiddenUnits
	}
	if _, err := n.AddDense(xSize, numOutputs, activations.ReLU{}, name()); err != nil {
		return nil, errors.Wrap(err, "set network")
	}

	return n.Compile()
}

// forward runs x through layers and returns the logits: the last dense
// layer's pre-activation output, or the plain output for other layers.
func forward(layers []layer.Layer, x []float64) []float64 {
	curr := x
	for _, l := range layers {
		curr = l.Forward(curr)
	}
	if d, ok := layers[len(layers)-1].(*layer.Dense); ok {
		return d.Logits()
	}
	return curr
}

// backward propagates a gradient taken with respect to the logits.
func backward(layers []layer.Layer, grad []float64) {
	last := len(layers) - 1
	if d, ok := layers[last].(*layer.Dense); ok {
		grad = d.BackwardLogits(grad)
	} else {
		grad = layers[last].Backward(grad)
	}
	for i := last - 1; i >= 0; i-- {
		grad = layers[i].Backward(grad)
	}
}

// Logits returns the final layer's output before activation for one image.
// The slice is overwritten by the next call.
func (n *Network) Logits(image []float64) []float64 {
	if len(n.layers) == 0 {
		return image
	}
	return forward(n.layers, image)
}

// Probabilities returns softmax(logits) for one image.
func (n *Network) Probabilities(image []float64) []float64 {
	logits := n.Logits(image)
	return activations.Softmax{}.ActivateBatch(make([]float64, len(logits)), logits)
}

// Predict returns the most likely class of one image.
func (n *Network) Predict(image []float64) int {
	return floats.MaxIdx(n.Logits(image))
}

// Params returns a copy of all parameters, layer after layer.
func (n *Network) Params() []float64 {
	var params []float64
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// NumParams returns the number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.layers {
		total += len(l.Params())
	}
	return total
}

// StopTraining makes Train return after the current epoch.
func (n *Network) StopTraining() {
	n.stop = true
}

// Summary prints the layer table.
func (n *Network) Summary() {
	w := n.out
	fmt.Fprintln(w, "Model: CNN")
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "%-25s %-20s %-10d\n", "input", InputShape, 0)
	for i, l := range n.layers {
		label := fmt.Sprintf("%s_%d", n.specs[i].Kind, i)
		if name := l.Name(); name != "" {
			label = fmt.Sprintf("%s (%s)", label, name)
		}
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", label, l.OutShape(), len(l.Params()))
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", n.NumParams())
	fmt.Fprintln(w, "_________________________________________________________________")
}
