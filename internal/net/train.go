package net

import (
	"context"
	"fmt"
	"time"

	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/metrics"
	"github.com/pkg/errors"
)

// EpochStats summarizes one training epoch.
type EpochStats struct {
	Epoch        int // 1-based
	Cost         float64
	TestAccuracy float64
	ImagesPerSec float64
	Duration     time.Duration
}

// Train runs the configured number of epochs over data.Train. Each epoch
// takes len(Train)/batchSize Adam steps on shuffled minibatches, then
// reports the mean batch cost and the accuracy on data.Test. Progress is
// printed to the network's output.
//
// Training an unconfigured network prints a reminder and returns
// ErrNetworkNotSet without touching anything. A cancelled ctx stops
// training between batches and returns ctx.Err() with the epochs finished
// so far.
func (n *Network) Train(ctx context.Context, data *dataset.DataSet) ([]EpochStats, error) {
	if !n.configured {
		fmt.Fprintln(n.out, "you need to set the network first")
		return nil, ErrNetworkNotSet
	}
	if data == nil || data.Train == nil || data.Test == nil {
		return nil, errors.New("train: dataset is missing a train or test split")
	}
	totalBatch := data.Train.Len() / n.batchSize
	if totalBatch == 0 {
		return nil, errors.Errorf("train: %d training examples do not fill a batch of %d",
			data.Train.Len(), n.batchSize)
	}

	n.stop = false
	for _, cb := range n.callbacks {
		cb.OnTrainBegin(n)
	}
	defer func() {
		for _, cb := range n.callbacks {
			cb.OnTrainEnd(n)
		}
	}()

	var history []EpochStats
	for epoch := 0; epoch < n.epochs; epoch++ {
		for _, cb := range n.callbacks {
			cb.OnEpochBegin(epoch+1, n)
		}

		epochStart := time.Now()
		var window metrics.Window
		for i := 0; i < totalBatch; i++ {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			start := time.Now()
			batchX, batchY := data.Train.NextBatch(n.batchSize)
			dataTime := time.Since(start)

			start = time.Now()
			c := n.TrainBatch(batchX, batchY)
			window.Record(len(batchX), dataTime, time.Since(start), c)

			for _, cb := range n.callbacks {
				cb.OnBatchEnd(i, c, n)
			}
		}

		snap := window.Snapshot()
		stats := EpochStats{
			Epoch:        epoch + 1,
			Cost:         snap.MeanLoss,
			TestAccuracy: n.Evaluate(data.Test.Images, data.Test.Labels),
			ImagesPerSec: snap.ImagesPerSec,
			Duration:     time.Since(epochStart),
		}
		history = append(history, stats)
		fmt.Fprintf(n.out, "Epoch: %d cost = %.3f  test accuracy: %.3f\n",
			stats.Epoch, stats.Cost, stats.TestAccuracy)

		for _, cb := range n.callbacks {
			cb.OnEpochEnd(stats, n)
		}
		if n.stop {
			break
		}
	}

	final := 0.0
	if len(history) > 0 {
		final = history[len(history)-1].TestAccuracy
	} else {
		final = n.Evaluate(data.Test.Images, data.Test.Labels)
	}
	fmt.Fprintln(n.out, "\nTraining complete!")
	fmt.Fprintf(n.out, "%.4f\n", final)
	return history, nil
}
