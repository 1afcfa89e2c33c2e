// Package net tests cover building, training and checkpointing networks.
package net

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/opt"
	"github.com/pkg/errors"
)

// smallNetwork is conv 3x3 (4 filters) -> pool -> dense 10.
func smallNetwork(t *testing.T, lr float64, epochs int) *Network {
	t.Helper()
	n := New(lr, epochs)
	n.SetOutput(&bytes.Buffer{})
	if _, err := n.AddConv(1, 4, [2]int{3, 3}, "1", activations.ReLU{}); err != nil {
		t.Fatalf("AddConv: %v", err)
	}
	if _, err := n.AddPool([2]int{2, 2}); err != nil {
		t.Fatalf("AddPool: %v", err)
	}
	if _, err := n.AddDense(4*14*14, 10, activations.ReLU{}, "2"); err != nil {
		t.Fatalf("AddDense: %v", err)
	}
	if _, err := n.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return n
}

func TestTrainRequiresNetwork(t *testing.T) {
	n := New(0.001, 2)
	var out bytes.Buffer
	n.SetOutput(&out)

	history, err := n.Train(context.Background(), dataset.Synthetic(10, 10, 1))
	if err != ErrNetworkNotSet {
		t.Fatalf("Train error = %v, want ErrNetworkNotSet", err)
	}
	if history != nil {
		t.Errorf("history = %v, want nil", history)
	}
	if out.String() != "you need to set the network first\n" {
		t.Errorf("output = %q", out.String())
	}
	if len(n.Layers()) != 0 {
		t.Errorf("Train added %d layers to an empty network", len(n.Layers()))
	}
}

func TestSetNetworkDefaultArchitecture(t *testing.T) {
	n := New(0.001, 2)
	l, err := n.SetNetwork(1, 2, 2, 10)
	if err != nil {
		t.Fatalf("SetNetwork: %v", err)
	}
	if l == nil || !n.Configured() {
		t.Fatal("SetNetwork did not configure the network")
	}

	want := []struct {
		kind Kind
		name string
		out  layer.Shape
	}{
		{KindConv, "1", layer.Shape{Channels: 32, Height: 28, Width: 28}},
		{KindPool, "", layer.Shape{Channels: 32, Height: 14, Width: 14}},
		{KindConv, "2", layer.Shape{Channels: 64, Height: 14, Width: 14}},
		{KindPool, "", layer.Shape{Channels: 64, Height: 7, Width: 7}},
		{KindFlatten, "", layer.Vector(3136)},
		{KindDense, "3", layer.Vector(1000)},
		{KindDense, "4", layer.Vector(10)},
	}
	specs := n.Specs()
	layers := n.Layers()
	if len(layers) != len(want) {
		t.Fatalf("got %d layers, want %d", len(layers), len(want))
	}
	for i, w := range want {
		if specs[i].Kind != w.kind || specs[i].Name != w.name {
			t.Errorf("layer %d = %s %q, want %s %q", i, specs[i].Kind, specs[i].Name, w.kind, w.name)
		}
		if got := layers[i].OutShape(); got != w.out {
			t.Errorf("layer %d output = %v, want %v", i, got, w.out)
		}
	}

	wantParams := (32*25 + 32) + (64*32*25 + 64) + (3136*1000 + 1000) + (1000*10 + 10)
	if got := n.NumParams(); got != wantParams {
		t.Errorf("NumParams = %d, want %d", got, wantParams)
	}
}

func TestSetNetworkFilterDoubling(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.SetNetwork(2, 1, 1, 10); err != nil {
		t.Fatalf("SetNetwork: %v", err)
	}
	first := n.Layers()[0].(*layer.Conv2D)
	second := n.Layers()[1].(*layer.Conv2D)
	if first.Filters() != 32 || second.Filters() != 64 {
		t.Errorf("filters = %d, %d, want 32, 64", first.Filters(), second.Filters())
	}
	if second.InShape().Channels != 32 {
		t.Errorf("second conv reads %d channels, want 32", second.InShape().Channels)
	}
	if got := n.OutputShape(); got != layer.Vector(10) {
		t.Errorf("output = %v, want (10)", got)
	}
}

func TestSetNetworkWithoutBlocks(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.SetNetwork(1, 0, 1, 10); err != nil {
		t.Fatalf("SetNetwork: %v", err)
	}
	d, ok := n.Layers()[1].(*layer.Dense)
	if !ok {
		t.Fatalf("layer 1 is %T, want *layer.Dense", n.Layers()[1])
	}
	if d.InSize() != 784 {
		t.Errorf("dense input = %d, want 784", d.InSize())
	}
}

func TestSetNetworkInvalid(t *testing.T) {
	cases := [][4]int{
		{1, 1, 0, 10},
		{1, 1, 1, 0},
		{-1, 1, 1, 10},
	}
	for _, c := range cases {
		n := New(0.001, 1)
		if _, err := n.SetNetwork(c[0], c[1], c[2], c[3]); err == nil {
			t.Errorf("SetNetwork%v succeeded, want error", c)
		}
		if n.Configured() {
			t.Errorf("SetNetwork%v left the network configured", c)
		}
	}
}

func TestSetNetworkReplacesLayers(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.SetNetwork(1, 1, 1, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := n.SetNetwork(1, 1, 1, 10); err != nil {
		t.Fatal(err)
	}
	if len(n.Layers()) != 4 {
		t.Errorf("got %d layers after rebuilding, want 4", len(n.Layers()))
	}
}

func TestAddShapeErrors(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.AddConv(3, 8, [2]int{5, 5}, "c", nil); errors.Cause(err) != ErrShape {
		t.Errorf("AddConv with 3 channels: err = %v, want ErrShape", err)
	}
	if _, err := n.AddDense(100, 10, nil, "d"); errors.Cause(err) != ErrShape {
		t.Errorf("AddDense with 100 inputs: err = %v, want ErrShape", err)
	}
	if len(n.Layers()) != 0 {
		t.Errorf("failed adds left %d layers", len(n.Layers()))
	}

	if _, err := n.AddDense(784, 10, nil, "d"); err != nil {
		t.Fatalf("AddDense: %v", err)
	}
	if _, err := n.AddPool([2]int{2, 2}); errors.Cause(err) != ErrShape {
		t.Errorf("AddPool on a vector: err = %v, want ErrShape", err)
	}
	if _, err := n.AddConv(1, 8, [2]int{5, 5}, "c", nil); errors.Cause(err) != ErrShape {
		t.Errorf("AddConv on a vector: err = %v, want ErrShape", err)
	}
}

func TestCompileRequiresVector(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.Compile(); err == nil {
		t.Error("Compile with no layers succeeded")
	}
	if _, err := n.AddPool([2]int{2, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Compile(); errors.Cause(err) != ErrShape {
		t.Errorf("Compile on an image output: err = %v, want ErrShape", err)
	}
}

func TestAddingLayerUnconfigures(t *testing.T) {
	n := smallNetwork(t, 0.001, 1)
	if _, err := n.AddDense(10, 10, nil, "3"); err != nil {
		t.Fatal(err)
	}
	if n.Configured() {
		t.Error("network still configured after adding a layer")
	}
}

func TestTrainBatchReducesLoss(t *testing.T) {
	n := smallNetwork(t, 0.005, 1)
	data := dataset.Synthetic(20, 0, 3)
	images, labels := data.Train.Images, data.Train.Labels

	before := n.Loss(images, labels)
	var last float64
	for i := 0; i < 30; i++ {
		last = n.TrainBatch(images, labels)
	}
	after := n.Loss(images, labels)

	if math.IsNaN(last) || math.IsNaN(after) {
		t.Fatalf("loss is NaN")
	}
	if after >= before {
		t.Errorf("loss did not decrease: before %.4f after %.4f", before, after)
	}
	if adam, ok := n.Optimizer().(*opt.Adam); !ok || adam.Steps() != 30 {
		t.Errorf("optimizer = %T, want Adam with 30 steps", n.Optimizer())
	}
}

func TestTrainBatchParallelMatchesSequential(t *testing.T) {
	data := dataset.Synthetic(12, 0, 5)

	seq := smallNetwork(t, 0.001, 1)
	seq.SetWorkers(1)
	par := smallNetwork(t, 0.001, 1)
	par.SetWorkers(4)

	for i := 0; i < 3; i++ {
		lossSeq := seq.TrainBatch(data.Train.Images, data.Train.Labels)
		lossPar := par.TrainBatch(data.Train.Images, data.Train.Labels)
		if math.Abs(lossSeq-lossPar) > 1e-9 {
			t.Fatalf("step %d: loss %.12f sequential, %.12f parallel", i, lossSeq, lossPar)
		}
	}

	ps, pp := seq.Params(), par.Params()
	for i := range ps {
		if math.Abs(ps[i]-pp[i]) > 1e-9 {
			t.Fatalf("param %d: %.12f sequential, %.12f parallel", i, ps[i], pp[i])
		}
	}
}

func TestEvaluate(t *testing.T) {
	n := smallNetwork(t, 0.001, 1)
	data := dataset.Synthetic(0, 30, 2)

	acc := n.Evaluate(data.Test.Images, data.Test.Labels)
	if acc < 0 || acc > 1 {
		t.Errorf("accuracy %v out of range", acc)
	}

	correct := 0
	for i, img := range data.Test.Images {
		if n.Predict(img) == data.Test.Class(i) {
			correct++
		}
	}
	if want := float64(correct) / 30; math.Abs(acc-want) > 1e-12 {
		t.Errorf("Evaluate = %v, Predict agrees on %v", acc, want)
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	n := smallNetwork(t, 0.001, 1)
	data := dataset.Synthetic(1, 0, 2)

	sum := 0.0
	for _, p := range n.Probabilities(data.Train.Images[0]) {
		if p < 0 {
			t.Fatalf("negative probability %v", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v", sum)
	}
}

var epochLine = regexp.MustCompile(`^Epoch: (\d+) cost = \d+\.\d{3}  test accuracy: [01]\.\d{3}$`)

func TestTrainOutput(t *testing.T) {
	n := smallNetwork(t, 0.001, 2)
	n.SetBatchSize(10)
	var out bytes.Buffer
	n.SetOutput(&out)

	history, err := n.Train(context.Background(), dataset.Synthetic(25, 10, 4))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d epochs, want 2", len(history))
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("output has %d lines:\n%s", len(lines), out.String())
	}
	for i := 0; i < 2; i++ {
		m := epochLine.FindStringSubmatch(lines[i])
		if m == nil || m[1] != string(rune('1'+i)) {
			t.Errorf("line %d = %q", i, lines[i])
		}
	}
	if lines[2] != "" || lines[3] != "Training complete!" {
		t.Errorf("trailer = %q, %q", lines[2], lines[3])
	}

	for i, s := range history {
		if s.Epoch != i+1 {
			t.Errorf("history[%d].Epoch = %d", i, s.Epoch)
		}
		if s.Cost <= 0 || math.IsNaN(s.Cost) {
			t.Errorf("history[%d].Cost = %v", i, s.Cost)
		}
	}
	// 25 examples fill two batches of 10 per epoch.
	if steps := n.Optimizer().(*opt.Adam).Steps(); steps != 4 {
		t.Errorf("Adam steps = %d, want 4", steps)
	}
}

func TestTrainRejectsSmallDataset(t *testing.T) {
	n := smallNetwork(t, 0.001, 1)
	if _, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1)); err == nil {
		t.Error("Train with fewer examples than a batch succeeded")
	}
	if _, err := n.Train(context.Background(), nil); err == nil {
		t.Error("Train with no dataset succeeded")
	}
}

func TestTrainCancelled(t *testing.T) {
	n := smallNetwork(t, 0.001, 3)
	n.SetBatchSize(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	history, err := n.Train(ctx, dataset.Synthetic(10, 5, 1))
	if err != context.Canceled {
		t.Errorf("Train error = %v, want context.Canceled", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d epochs from a cancelled run", len(history))
	}
}

type recorder struct {
	BaseCallback
	events []string
}

func (r *recorder) OnTrainBegin(n *Network)                 { r.events = append(r.events, "begin") }
func (r *recorder) OnTrainEnd(n *Network)                   { r.events = append(r.events, "end") }
func (r *recorder) OnEpochEnd(stats EpochStats, n *Network) { r.events = append(r.events, "epoch") }

func TestCallbacks(t *testing.T) {
	n := smallNetwork(t, 0.001, 2)
	n.SetBatchSize(5)
	rec := &recorder{}
	n.AddCallback(rec)

	if _, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1)); err != nil {
		t.Fatal(err)
	}
	want := "begin epoch epoch end"
	if got := strings.Join(rec.events, " "); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestEarlyStopping(t *testing.T) {
	n := smallNetwork(t, 0.001, 5)
	n.SetBatchSize(5)
	// No epoch can improve on the first by this much.
	es := NewEarlyStopping(1, 1e9)
	n.AddCallback(es)

	history, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || !es.Stopped {
		t.Errorf("ran %d epochs, stopped=%v; want 2, true", len(history), es.Stopped)
	}
}

func TestSchedulerCallback(t *testing.T) {
	n := smallNetwork(t, 0.01, 3)
	n.SetBatchSize(5)
	n.AddCallback(NewSchedulerCallback(opt.NewExponentialLR(n.Optimizer(), 0.5)))

	if _, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1)); err != nil {
		t.Fatal(err)
	}
	if got := n.Optimizer().LearningRate(); math.Abs(got-0.00125) > 1e-12 {
		t.Errorf("learning rate = %v, want 0.00125", got)
	}
}

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	n := smallNetwork(t, 0.001, 2)
	n.SetBatchSize(5)
	n.AddCallback(NewCSVLogger(path, false))

	if _, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1)); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2", len(records))
	}
	if records[0][0] != "epoch" || records[2][0] != "2" {
		t.Errorf("records = %v", records)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	n := smallNetwork(t, 0.002, 3)
	n.SetBatchSize(20)
	data := dataset.Synthetic(10, 5, 9)
	n.TrainBatch(data.Train.Images, data.Train.Labels)

	if err := n.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !loaded.Configured() {
		t.Error("loaded network is not configured")
	}
	if loaded.LearningRate() != 0.002 || loaded.Epochs() != 3 || loaded.BatchSize() != 20 {
		t.Errorf("loaded lr=%v epochs=%d batch=%d", loaded.LearningRate(), loaded.Epochs(), loaded.BatchSize())
	}
	if len(loaded.Specs()) != len(n.Specs()) {
		t.Fatalf("loaded %d layers, want %d", len(loaded.Specs()), len(n.Specs()))
	}
	for i, s := range n.Specs() {
		if loaded.Specs()[i] != s {
			t.Errorf("spec %d = %+v, want %+v", i, loaded.Specs()[i], s)
		}
	}

	for _, img := range data.Test.Images {
		want := append([]float64(nil), n.Logits(img)...)
		got := loaded.Logits(img)
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("logit %d = %v, want %v", j, got[j], want[j])
			}
		}
	}
}

func TestModelCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.gob")
	n := smallNetwork(t, 0.001, 1)
	n.SetBatchSize(5)
	n.AddCallback(NewModelCheckpoint(path))

	if _, err := n.Train(context.Background(), dataset.Synthetic(10, 5, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("checkpoint not loadable: %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode(strings.NewReader("not a network")); err == nil {
		t.Error("Decode of garbage succeeded")
	}
}

func TestSummary(t *testing.T) {
	n := smallNetwork(t, 0.001, 1)
	var out bytes.Buffer
	n.SetOutput(&out)
	n.Summary()

	s := out.String()
	for _, want := range []string{"conv_0 (1)", "pool_1", "flatten_2", "dense_3 (2)", "(4, 28, 28)", "(10)"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

type leakyReLU struct{ activations.ReLU }

func (leakyReLU) Activate(x float64) float64 {
	if x < 0 {
		return 0.01 * x
	}
	return x
}

func TestEncodeRejectsUnregisteredActivation(t *testing.T) {
	n := New(0.001, 1)
	if _, err := n.AddConv(1, 2, [2]int{3, 3}, "1", leakyReLU{}); err != nil {
		t.Fatal(err)
	}
	if _, err := n.AddDense(2*28*28, 10, nil, "2"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := n.Encode(&buf); err == nil {
		t.Fatal("Encode succeeded for an activation Decode cannot restore")
	}
	path := filepath.Join(t.TempDir(), "model.gob")
	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := n.Save(path); err == nil {
		t.Error("Save succeeded for an activation Decode cannot restore")
	}
	if data, _ := os.ReadFile(path); string(data) != "previous" {
		t.Errorf("failed Save replaced the existing file with %q", data)
	}
}

func TestTrainCostDecreasesOverEpochs(t *testing.T) {
	n := smallNetwork(t, 0.005, 4)
	n.SetBatchSize(10)

	history, err := n.Train(context.Background(), dataset.Synthetic(100, 20, 11))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d epochs, want 4", len(history))
	}
	first, last := history[0].Cost, history[len(history)-1].Cost
	if !(last < first) {
		t.Errorf("cost did not decrease: epoch 1 %.4f, epoch %d %.4f", first, len(history), last)
	}
}
