package net

import (
	"log"
	"math"

	"github.com/FlavioCFOliveira/convnet/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(stats EpochStats, n *Network)
	OnBatchEnd(batch int, loss float64, n *Network)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                        {}
func (c BaseCallback) OnTrainEnd(n *Network)                          {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)             {}
func (c BaseCallback) OnEpochEnd(stats EpochStats, n *Network)        {}
func (c BaseCallback) OnBatchEnd(batch int, loss float64, n *Network) {}

// SchedulerCallback steps a learning rate scheduler after every epoch.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

// NewSchedulerCallback steps scheduler at the end of every epoch.
func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

// OnEpochEnd advances the scheduler by one epoch.
func (c *SchedulerCallback) OnEpochEnd(stats EpochStats, n *Network) {
	c.scheduler.Step()
}

// EarlyStopping stops training when the epoch cost has not improved by more
// than Threshold for Patience epochs.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64

	bestLoss     float64
	numBadEpochs int
	Stopped      bool
}

// NewEarlyStopping stops after patience epochs whose cost is not at least
// threshold below the best seen.
func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestLoss:  math.MaxFloat64,
	}
}

// OnTrainBegin forgets the best cost of any previous run.
func (c *EarlyStopping) OnTrainBegin(n *Network) {
	c.bestLoss = math.MaxFloat64
	c.numBadEpochs = 0
	c.Stopped = false
}

// OnEpochEnd compares the epoch cost with the best so far and stops
// training once patience runs out.
func (c *EarlyStopping) OnEpochEnd(stats EpochStats, n *Network) {
	if stats.Cost < c.bestLoss-c.Threshold {
		c.bestLoss = stats.Cost
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.numBadEpochs >= c.Patience {
		log.Printf("early stopping at epoch %d: cost %.6f did not improve for %d epochs",
			stats.Epoch, stats.Cost, c.Patience)
		c.Stopped = true
		n.StopTraining()
	}
}

// ModelCheckpoint saves the network after every epoch whose test accuracy
// is the best so far.
type ModelCheckpoint struct {
	BaseCallback
	Filename string

	best float64
}

// NewModelCheckpoint saves to filename on every new best test accuracy.
func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{Filename: filename, best: -1}
}

// OnEpochEnd saves the network when its test accuracy beats every
// earlier epoch.
func (c *ModelCheckpoint) OnEpochEnd(stats EpochStats, n *Network) {
	if stats.TestAccuracy <= c.best {
		return
	}
	c.best = stats.TestAccuracy
	if err := n.Save(c.Filename); err != nil {
		log.Printf("saving checkpoint: %v", err)
		return
	}
	log.Printf("checkpoint saved to %s: test accuracy %.4f is new best", c.Filename, stats.TestAccuracy)
}
