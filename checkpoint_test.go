package dcgan

import (
	"path/filepath"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestCheckpointRoundTrip(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("w"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}))))
	b := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, 2), gorgonia.WithName("b"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{-0.5, 0.5}))))

	path := filepath.Join(t.TempDir(), "model.ckpt")
	if err := SaveCheckpoint(path, gorgonia.Nodes{w, b}); err != nil {
		t.Fatal(err)
	}
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ckpt) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(ckpt))
	}

	// Restore into a fresh graph with zeroed weights of the same shapes and names
	g2 := gorgonia.NewGraph()
	w2 := gorgonia.NewMatrix(g2, tensor.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("w"), gorgonia.WithInit(gorgonia.Zeroes()))
	b2 := gorgonia.NewMatrix(g2, tensor.Float64, gorgonia.WithShape(1, 2), gorgonia.WithName("b"), gorgonia.WithInit(gorgonia.Zeroes()))
	if err := RestoreLearnables(gorgonia.Nodes{w2, b2}, ckpt); err != nil {
		t.Fatal(err)
	}
	if !tensorEqual(w.Value().(*tensor.Dense), w2.Value().(*tensor.Dense)) {
		t.Fatal("restored weights differ from saved weights")
	}
	if !tensorEqual(b.Value().(*tensor.Dense), b2.Value().(*tensor.Dense)) {
		t.Fatal("restored biases differ from saved biases")
	}
}

func TestRestoreLearnablesShapeMismatch(t *testing.T) {
	ckpt := Checkpoint{"w": {Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}}
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(3, 3), gorgonia.WithName("w"), gorgonia.WithInit(gorgonia.Zeroes()))
	if err := RestoreLearnables(gorgonia.Nodes{w}, ckpt); err == nil {
		t.Fatal("expected error restoring a snapshot of the wrong shape")
	}
}

func TestRestoreLearnablesMissingSnapshot(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("unknown"), gorgonia.WithInit(gorgonia.Zeroes()))
	if err := RestoreLearnables(gorgonia.Nodes{w}, Checkpoint{}); err == nil {
		t.Fatal("expected error restoring a learnable absent from the checkpoint")
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	samples := []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 1, 2, 2), tensor.WithBacking([]float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6, 0.7, -0.8})),
		tensor.New(tensor.WithShape(2, 1, 2, 2), tensor.WithBacking([]float64{1, -1, 1, -1, 0, 0, 0, 0})),
	}
	path := filepath.Join(t.TempDir(), "samples.gob")
	if err := SaveSamples(path, samples); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSamples(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != len(samples) {
		t.Fatalf("expected %d sample batches, got %d", len(samples), len(loaded))
	}
	for i := range samples {
		if !tensorEqual(samples[i], loaded[i]) {
			t.Fatalf("sample batch %d changed across the gob round trip", i)
		}
	}
}
