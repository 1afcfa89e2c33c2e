package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/FlavioCFOliveira/convnet/internal/config"
	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/net"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults to the reference run)")
	lr := flag.Float64("lr", 0, "Adam learning rate")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Examples per optimization step")
	convs := flag.Int("convs", 0, "Convolutions per block")
	blocks := flag.Int("blocks", 0, "Conv/pool blocks")
	connects := flag.Int("connects", 0, "Fully connected layers, including the output layer")
	outputs := flag.Int("outputs", 0, "Number of classes")
	dataDir := flag.String("data", "", "Directory holding the MNIST IDX files")
	synthetic := flag.Bool("synthetic", false, "Train on generated digit glyphs instead of MNIST")
	seed := flag.Int64("seed", 0, "PRNG seed")
	csvLog := flag.String("csv", "", "Write per-epoch metrics to this CSV file")
	checkpoint := flag.String("checkpoint", "", "Save the best network to this file")
	patience := flag.Int("patience", 0, "Stop after this many epochs without cost improvement")
	workers := flag.Int("workers", 0, "Goroutines per batch (default: physical cores)")
	validation := flag.Int("validation", -1, "Training images held out for validation (default from config)")
	mirror := flag.String("mirror", "", "Base URL the MNIST files are downloaded from when missing")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	overrides := config.Overrides{
		LearningRate: *lr,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		Convs:        *convs,
		Blocks:       *blocks,
		Connects:     *connects,
		Outputs:      *outputs,
		DataDir:      *dataDir,
		Synthetic:    *synthetic,
		Seed:         *seed,
		CSVLog:       *csvLog,
		Checkpoint:   *checkpoint,
		Patience:     *patience,
		Mirror:       *mirror,
	}
	if *validation >= 0 {
		overrides.ValidationSize = validation
	}
	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var data *dataset.DataSet
	if cfg.Synthetic {
		data = dataset.Synthetic(5000, 1000, uint64(cfg.Seed))
		log.Printf("synthetic dataset: train=%d test=%d", data.Train.Len(), data.Test.Len())
	} else {
		if err := dataset.Download(ctx, cfg.DataDir, cfg.Mirror); err != nil {
			log.Fatalf("failed to download dataset: %v", err)
		}
		var err error
		data, err = dataset.Load(cfg.DataDir, cfg.ValidationSize, uint64(cfg.Seed))
		if err != nil {
			log.Fatalf("failed to load dataset: %v", err)
		}
		log.Printf("dataset %s: train=%d validation=%d test=%d",
			cfg.DataDir, data.Train.Len(), data.Validation.Len(), data.Test.Len())
	}

	cnn := net.New(cfg.LearningRate, cfg.Epochs)
	cnn.SetBatchSize(cfg.BatchSize)
	cnn.SetSeed(uint64(cfg.Seed))
	if *workers > 0 {
		cnn.SetWorkers(*workers)
	}
	log.Printf("device: %s", cnn.Device())

	if _, err := cnn.SetNetwork(cfg.Convs, cfg.Blocks, cfg.Connects, cfg.Outputs); err != nil {
		log.Fatalf("failed to build network: %v", err)
	}
	cnn.Summary()

	if cfg.CSVLog != "" {
		cnn.AddCallback(net.NewCSVLogger(cfg.CSVLog, false))
	}
	if cfg.Checkpoint != "" {
		cnn.AddCallback(net.NewModelCheckpoint(cfg.Checkpoint))
	}
	if cfg.Patience > 0 {
		cnn.AddCallback(net.NewEarlyStopping(cfg.Patience, 1e-4))
	}

	if _, err := cnn.Train(ctx, data); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
