// Package convnet is the public entry point to the CNN builder and trainer.
package convnet

import (
	"context"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/net"
	"github.com/FlavioCFOliveira/convnet/internal/opt"
)

// Re-export common types and functions for easier access
type (
	Network    = net.Network
	EpochStats = net.EpochStats
	Callback   = net.Callback
	Layer      = layer.Layer
	Shape      = layer.Shape
	Activation = activations.Activation
	Loss       = loss.Loss
	Optimizer  = opt.Optimizer
	DataSet    = dataset.DataSet
	Split      = dataset.Split
)

var ErrNetworkNotSet = net.ErrNetworkNotSet

// New creates an empty network trained for epochs passes of Adam at
// learningRate.
func New(learningRate float64, epochs int) *Network {
	return net.New(learningRate, epochs)
}

// Load reads a network saved with Network.Save.
func Load(filename string) (*Network, error) {
	return net.Load(filename)
}

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Linear  = activations.Linear{}
)

// LoadMNIST reads the four MNIST IDX files from dir, holding out the first
// validationSize training images.
func LoadMNIST(dir string, validationSize int, seed uint64) (*DataSet, error) {
	return dataset.Load(dir, validationSize, seed)
}

// DownloadMNIST fetches any of the four MNIST files missing from dir.
// An empty baseURL uses the default mirror.
func DownloadMNIST(ctx context.Context, dir, baseURL string) error {
	return dataset.Download(ctx, dir, baseURL)
}

// SyntheticDigits generates an offline MNIST-shaped dataset.
func SyntheticDigits(trainSize, testSize int, seed uint64) *DataSet {
	return dataset.Synthetic(trainSize, testSize, seed)
}

// Callbacks
func NewCSVLogger(filename string, append bool) Callback {
	return net.NewCSVLogger(filename, append)
}

func NewEarlyStopping(patience int, threshold float64) Callback {
	return net.NewEarlyStopping(patience, threshold)
}

func NewModelCheckpoint(filename string) Callback {
	return net.NewModelCheckpoint(filename)
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) Callback {
	return net.NewSchedulerCallback(opt.NewStepLR(optimizer, stepSize, gamma))
}
