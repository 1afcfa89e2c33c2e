package net

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/pkg/errors"
)

// Kind identifies a layer type in a LayerSpec.
type Kind string

const (
	KindConv    Kind = "conv"
	KindPool    Kind = "pool"
	KindFlatten Kind = "flatten"
	KindDense   Kind = "dense"
)

// LayerSpec records the arguments a layer was added with, enough to add it
// again. Window is the kernel of a conv or the window of a pool.
type LayerSpec struct {
	Kind       Kind
	Name       string
	In         int
	Out        int
	Window     [2]int
	Activation string
}

// checkpoint is the gob payload. Params holds each layer's parameters in
// layer order, nil for layers without any.
type checkpoint struct {
	LearningRate float64
	Epochs       int
	BatchSize    int
	Seed         uint64
	Specs        []LayerSpec
	Params       [][]float64
}

// Specs returns the recorded configuration of every layer.
func (n *Network) Specs() []LayerSpec {
	return append([]LayerSpec(nil), n.specs...)
}

// Save writes the network configuration and parameters to filename.
// Optimizer state is not saved; a loaded network starts a fresh Adam. An
// existing file is only replaced once the network has been encoded.
func (n *Network) Save(filename string) error {
	var buf bytes.Buffer
	if err := n.Encode(&buf); err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(filename, buf.Bytes(), 0644), "save")
}

// Encode writes the network to w using gob encoding. Layers whose
// activation has no registered name cannot be restored and make Encode
// fail.
func (n *Network) Encode(w io.Writer) error {
	for i, spec := range n.specs {
		if (spec.Kind == KindConv || spec.Kind == KindDense) && spec.Activation == "" {
			return errors.Errorf("encode network: layer %d (%s %q) has an unregistered activation",
				i, spec.Kind, spec.Name)
		}
	}
	ckpt := checkpoint{
		LearningRate: n.learningRate,
		Epochs:       n.epochs,
		BatchSize:    n.batchSize,
		Seed:         n.seed,
		Specs:        n.specs,
		Params:       make([][]float64, len(n.layers)),
	}
	for i, l := range n.layers {
		ckpt.Params[i] = l.Params()
	}
	return errors.Wrap(gob.NewEncoder(w).Encode(&ckpt), "encode network")
}

// Load reads a network written by Save. The result is configured: it can
// be evaluated right away or trained further.
func Load(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}
	defer file.Close()
	return Decode(file)
}

// Decode reads a network written by Encode.
func Decode(r io.Reader) (*Network, error) {
	var ckpt checkpoint
	if err := gob.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "decode network")
	}
	if len(ckpt.Params) != len(ckpt.Specs) {
		return nil, errors.Errorf("decode network: %d layer specs but %d parameter sets",
			len(ckpt.Specs), len(ckpt.Params))
	}

	n := New(ckpt.LearningRate, ckpt.Epochs)
	n.SetBatchSize(ckpt.BatchSize)
	n.SetSeed(ckpt.Seed)
	for i, spec := range ckpt.Specs {
		if err := n.replay(spec); err != nil {
			return nil, errors.Wrapf(err, "decode network: layer %d", i)
		}
	}

	for i, l := range n.layers {
		params := l.Params()
		if len(params) != len(ckpt.Params[i]) {
			return nil, errors.Errorf("decode network: layer %d has %d parameters, checkpoint has %d",
				i, len(params), len(ckpt.Params[i]))
		}
		copy(params, ckpt.Params[i])
	}

	if _, err := n.Compile(); err != nil {
		return nil, errors.Wrap(err, "decode network")
	}
	return n, nil
}

func (n *Network) replay(spec LayerSpec) error {
	switch spec.Kind {
	case KindConv:
		act, err := activations.ByName(spec.Activation)
		if err != nil {
			return err
		}
		_, err = n.AddConv(spec.In, spec.Out, spec.Window, spec.Name, act)
		return err
	case KindPool:
		_, err := n.AddPool(spec.Window)
		return err
	case KindFlatten:
		n.Flatten()
		return nil
	case KindDense:
		act, err := activations.ByName(spec.Activation)
		if err != nil {
			return err
		}
		_, err = n.AddDense(spec.In, spec.Out, act, spec.Name)
		return err
	}
	return errors.Errorf("unknown layer kind %q", spec.Kind)
}
