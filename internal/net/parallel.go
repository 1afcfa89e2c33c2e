package net

import (
	"sync"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"gonum.org/v1/gonum/floats"
)

// stacks returns count layer stacks. Stack 0 is the network's own; the
// others are clones whose parameters are refreshed from it on every call.
func (n *Network) stacks(count int) [][]layer.Layer {
	for len(n.replicas) < count-1 {
		clone := make([]layer.Layer, len(n.layers))
		for i, l := range n.layers {
			clone[i] = l.Clone()
		}
		n.replicas = append(n.replicas, clone)
	}

	out := make([][]layer.Layer, count)
	out[0] = n.layers
	for w := 1; w < count; w++ {
		replica := n.replicas[w-1]
		for i, l := range replica {
			copy(l.Params(), n.layers[i].Params())
		}
		out[w] = replica
	}
	return out
}

// workerCount caps the worker count so every worker gets at least one
// example.
func (n *Network) workerCount(examples int) int {
	workers := n.workers
	if workers > examples {
		workers = examples
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// parallelChunks splits [0, total) into contiguous chunks and runs fn on
// each in its own goroutine.
func parallelChunks(total, workers int, fn func(worker, start, end int)) {
	if workers == 1 {
		fn(0, 0, total)
		return
	}
	chunk := (total + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, total)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			fn(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}

// TrainBatch runs one optimization step on a batch: gradients of the mean
// loss over the batch are accumulated (in parallel across replicas) and
// applied once. It returns the mean loss. The network must be configured.
func (n *Network) TrainBatch(images, labels [][]float64) float64 {
	if !n.configured {
		panic(ErrNetworkNotSet)
	}
	batch := len(images)
	if batch == 0 {
		return 0
	}

	workers := n.workerCount(batch)
	stacks := n.stacks(workers)
	for _, s := range stacks {
		for _, l := range s {
			l.ClearGradients()
		}
	}

	outSize := n.current.Size()
	losses := make([]float64, workers)
	parallelChunks(batch, workers, func(w, start, end int) {
		layers := stacks[w]
		grad := make([]float64, outSize)
		for i := start; i < end; i++ {
			logits := forward(layers, images[i])
			losses[w] += n.loss.Forward(logits, labels[i])
			if inPlace, ok := n.loss.(loss.BackwardInPlacer); ok {
				inPlace.BackwardInPlace(logits, labels[i], grad)
			} else {
				grad = n.loss.Backward(logits, labels[i])
			}
			backward(layers, grad)
		}
	})

	for w := 1; w < workers; w++ {
		for i, l := range n.layers {
			if g := l.Gradients(); len(g) > 0 {
				floats.Add(g, stacks[w][i].Gradients())
			}
		}
	}

	scale := 1 / float64(batch)
	n.opt.Begin()
	for i, l := range n.layers {
		g := l.Gradients()
		if len(g) == 0 {
			continue
		}
		floats.Scale(scale, g)
		n.opt.StepInPlace(i, l.Params(), g)
	}
	return floats.Sum(losses) * scale
}

// Evaluate returns the fraction of images whose predicted class matches the
// one-hot label.
func (n *Network) Evaluate(images, labels [][]float64) float64 {
	total := len(images)
	if total == 0 || len(n.layers) == 0 {
		return 0
	}

	workers := n.workerCount(total)
	stacks := n.stacks(workers)
	correct := make([]int, workers)
	parallelChunks(total, workers, func(w, start, end int) {
		for i := start; i < end; i++ {
			if floats.MaxIdx(forward(stacks[w], images[i])) == floats.MaxIdx(labels[i]) {
				correct[w]++
			}
		}
	})

	sum := 0
	for _, c := range correct {
		sum += c
	}
	return float64(sum) / float64(total)
}

// Loss returns the mean loss over a set of examples without training.
func (n *Network) Loss(images, labels [][]float64) float64 {
	if !n.configured || len(images) == 0 {
		return 0
	}
	workers := n.workerCount(len(images))
	stacks := n.stacks(workers)
	losses := make([]float64, workers)
	parallelChunks(len(images), workers, func(w, start, end int) {
		for i := start; i < end; i++ {
			losses[w] += n.loss.Forward(forward(stacks[w], images[i]), labels[i])
		}
	})
	return floats.Sum(losses) / float64(len(images))
}
