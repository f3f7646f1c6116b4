package dcgan

import (
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

// randomSource builds a source-layout (H, W, C, N) tensor of pixel values
func randomSource(h, w, c, n int, seed int64) (*tensor.Dense, *tensor.Dense) {
	rnd := rand.New(rand.NewSource(seed))
	images := make([]float64, h*w*c*n)
	for i := range images {
		images[i] = float64(rnd.Intn(256))
	}
	labels := make([]float64, n)
	for i := range labels {
		labels[i] = float64(rnd.Intn(10))
	}
	return tensor.New(tensor.WithShape(h, w, c, n), tensor.WithBacking(images)),
		tensor.New(tensor.WithShape(n), tensor.WithBacking(labels))
}

func TestTrainerRunSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training loop in short mode")
	}
	cfg := smallConfig()
	cfg.BatchSize = 64
	cfg.Epochs = 1
	cfg.PrintEvery = 1
	cfg.ShowEvery = 2
	cfg.SampleRows = 8

	trainImages, trainLabels := randomSource(cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels, 128, 1)
	testImages, testLabels := randomSource(cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels, 4, 2)
	ds, err := NewDataset(trainImages, trainLabels, testImages, testLabels, cfg.ValidFraction, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	trainer := &Trainer{
		Config:    cfg,
		OutputDir: outDir,
		Logger:    log.New(io.Discard, "", 0),
	}
	history, samples, err := trainer.Run(ds)
	if err != nil {
		t.Fatal(err)
	}

	// 128 samples at batch size 64 over one epoch is exactly 2 steps
	if len(history) != 2 {
		t.Fatalf("expected 2 loss records with PrintEvery=1, got %d", len(history))
	}
	for i, rec := range history {
		if rec.Step != i+1 {
			t.Fatalf("loss record %d carries step %d", i, rec.Step)
		}
		if !isFinite(rec.Discriminator) || !isFinite(rec.Generator) {
			t.Fatalf("loss record %d is not finite: %+v", i, rec)
		}
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample batch with ShowEvery=2 over 2 steps, got %d", len(samples))
	}
	wantShape := tensor.Shape{cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth}
	if !samples[0].Shape().Eq(wantShape) {
		t.Fatalf("expected sample batch shape %v, got %v", wantShape, samples[0].Shape())
	}

	for _, artifact := range []string{"generator.ckpt", "samples.gob", "losses.png", "samples_000002.png"} {
		if _, err := os.Stat(filepath.Join(outDir, artifact)); err != nil {
			t.Fatalf("expected artifact '%s' after the run: %v", artifact, err)
		}
	}

	ckpt, err := LoadCheckpoint(filepath.Join(outDir, "generator.ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ckpt) != 14 {
		t.Fatalf("expected 14 generator learnables in the checkpoint, got %d", len(ckpt))
	}
	persisted, err := LoadSamples(filepath.Join(outDir, "samples.gob"))
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || !tensorEqual(persisted[0], samples[0]) {
		t.Fatal("persisted samples differ from returned samples")
	}
}

func TestTrainerRunSkipsRemainderBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training loop in short mode")
	}
	cfg := smallConfig()
	cfg.BatchSize = 8
	cfg.Epochs = 1
	cfg.PrintEvery = 1
	cfg.ShowEvery = 100

	// 20 samples at batch size 8: two full batches plus a remainder of 4 to skip
	trainImages, trainLabels := randomSource(cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels, 20, 3)
	testImages, testLabels := randomSource(cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels, 4, 4)
	ds, err := NewDataset(trainImages, trainLabels, testImages, testLabels, cfg.ValidFraction, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	trainer := &Trainer{Config: cfg, Logger: log.New(io.Discard, "", 0)}
	history, _, err := trainer.Run(ds)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 steps for 20 samples at batch size 8, got %d", len(history))
	}
}

func TestTrainerRejectsMismatchedDataset(t *testing.T) {
	cfg := smallConfig()
	trainImages, trainLabels := randomSource(16, 16, 1, 8, 1)
	testImages, testLabels := randomSource(16, 16, 1, 4, 2)
	ds, err := NewDataset(trainImages, trainLabels, testImages, testLabels, cfg.ValidFraction, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	trainer := &Trainer{Config: cfg, Logger: log.New(io.Discard, "", 0)}
	if _, _, err := trainer.Run(ds); err == nil {
		t.Fatal("expected error for dataset images not matching the configured shape")
	}
}
