// Package metrics accumulates training throughput and loss statistics.
package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates timing and loss across the batches of an epoch.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	losses  []float64
}

// Record adds one batch measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.losses = append(w.losses, loss)
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Batches: len(w.losses), Samples: w.samples}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if n := len(w.losses); n > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(n)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(n)
		snap.MeanLoss = stat.Mean(w.losses, nil)
		snap.LastLoss = w.losses[n-1]
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.losses = w.losses[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Batches      int
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanLoss     float64
	LastLoss     float64
}
