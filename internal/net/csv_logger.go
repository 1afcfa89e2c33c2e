package net

import (
	"encoding/csv"
	"log"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{"epoch", "cost", "test_accuracy", "images_per_sec", "time_seconds"}

// CSVLogger writes one row per epoch to a CSV file. time_seconds is the
// wall time since training began.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file  *os.File
	w     *csv.Writer
	start time.Time
}

// NewCSVLogger creates a CSVLogger. With append set, rows are added to an
// existing file and the header is only written when the file is empty.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{Filename: filename, Append: append}
}

// OnTrainBegin opens the file and writes the header when it is empty.
func (c *CSVLogger) OnTrainBegin(n *Network) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(c.Filename, flags, 0644)
	if err != nil {
		log.Printf("csv log disabled: %v", err)
		return
	}
	c.file, c.w, c.start = f, csv.NewWriter(f), time.Now()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		c.write(csvHeader)
	}
}

// OnEpochEnd appends the epoch row.
func (c *CSVLogger) OnEpochEnd(stats EpochStats, n *Network) {
	if c.w == nil {
		return
	}
	c.write([]string{
		strconv.Itoa(stats.Epoch),
		strconv.FormatFloat(stats.Cost, 'f', 6, 64),
		strconv.FormatFloat(stats.TestAccuracy, 'f', 6, 64),
		strconv.FormatFloat(stats.ImagesPerSec, 'f', 1, 64),
		strconv.FormatFloat(time.Since(c.start).Seconds(), 'f', 2, 64),
	})
}

// OnTrainEnd closes the file.
func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.file == nil {
		return
	}
	if err := c.file.Close(); err != nil {
		log.Printf("closing %s: %v", c.Filename, err)
	}
	c.file, c.w = nil, nil
}

// write flushes every row so the file is readable while training runs.
func (c *CSVLogger) write(record []string) {
	if err := c.w.Write(record); err != nil {
		log.Printf("writing %s: %v", c.Filename, err)
		return
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		log.Printf("writing %s: %v", c.Filename, err)
	}
}
