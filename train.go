package dcgan

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// LossRecord One periodic (discriminator loss, generator loss) observation
type LossRecord struct {
	Step          int
	Discriminator float64
	Generator     float64
}

// Trainer Drives the adversarial training loop: epoch/batch iteration, alternating
// discriminator and generator updates, periodic loss evaluation and periodic sample
// generation, then final persistence of the generator state and sample history.
//
// Config - scalar hyperparameters of the run
// OutputDir - destination for rendered grids, the generator checkpoint, the sample
// history and the loss chart; leave empty to keep everything in memory only
// Logger - destination for periodic loss lines; defaults to stderr
//
type Trainer struct {
	Config    Config
	OutputDir string
	Logger    *log.Logger
}

// Run Executes the whole training schedule over the dataset's training partition.
//
// Each batch step draws a fresh noise batch, updates the discriminator on the
// (real, generated) pair, then updates the generator reusing the same noise.
// Every PrintEvery steps the losses are re-evaluated without gradient updates and
// recorded; every ShowEvery steps the generator runs in inference mode on a fixed
// noise batch drawn once at loop start and the output joins the sample history.
//
// Batches smaller than the configured batch size are skipped: both graphs are
// compiled for fixed shapes (the dataset still emits the remainder batch for
// consumers that can use it).
//
// Diverged (NaN/Inf) losses terminate the run with an error; there is no retry
// and no partial-failure recovery.
//
func (t *Trainer) Run(ds *Dataset) ([]LossRecord, []*tensor.Dense, error) {
	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "[Trainer]")
	}
	if err := ds.CheckImageShape(cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth); err != nil {
		return nil, nil, errors.Wrap(err, "[Trainer]")
	}
	if t.OutputDir != "" {
		if err := os.MkdirAll(t.OutputDir, 0755); err != nil {
			return nil, nil, errors.Wrap(err, "Can't create output directory")
		}
	}
	model, err := NewModel(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer model.Close()

	noise := NewNoiseSource(cfg.Seed)
	// Held-out noise sampled once; every periodic sample renders the same vectors
	// so progress is visible on fixed inputs.
	sampleNoise := noise.Uniform(cfg.BatchSize, cfg.ZDim)

	var history []LossRecord
	var samples []*tensor.Dense
	step := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		batches, err := ds.Batches(cfg.BatchSize, true)
		if err != nil {
			return history, samples, errors.Wrap(err, fmt.Sprintf("Can't produce batches for epoch %d", epoch))
		}
		for _, batch := range batches {
			if batch.Images.Shape()[0] != cfg.BatchSize {
				continue
			}
			noiseBatch := noise.Uniform(cfg.BatchSize, cfg.ZDim)
			if _, _, err := model.Step(batch.Images, noiseBatch); err != nil {
				return history, samples, errors.Wrap(err, fmt.Sprintf("Training step %d failed", step))
			}
			step++

			if step%cfg.PrintEvery == 0 {
				dLoss, gLoss, err := model.Losses(batch.Images, noiseBatch)
				if err != nil {
					return history, samples, errors.Wrap(err, fmt.Sprintf("Loss evaluation at step %d failed", step))
				}
				if !isFinite(dLoss) || !isFinite(gLoss) {
					return history, samples, fmt.Errorf("training diverged at step %d: d_loss=%v g_loss=%v", step, dLoss, gLoss)
				}
				history = append(history, LossRecord{Step: step, Discriminator: dLoss, Generator: gLoss})
				t.logger().Printf("epoch %d/%d step %d | discriminator loss: %.4f | generator loss: %.4f", epoch+1, cfg.Epochs, step, dLoss, gLoss)
			}

			if step%cfg.ShowEvery == 0 {
				generated, err := model.Sample(sampleNoise)
				if err != nil {
					return history, samples, errors.Wrap(err, fmt.Sprintf("Sampling at step %d failed", step))
				}
				samples = append(samples, generated)
				if t.OutputDir != "" {
					grid := filepath.Join(t.OutputDir, fmt.Sprintf("samples_%06d.png", step))
					if err := RenderSampleGrid(grid, generated, cfg.SampleRows); err != nil {
						return history, samples, errors.Wrap(err, fmt.Sprintf("Can't render sample grid at step %d", step))
					}
				}
			}
		}
	}

	if t.OutputDir != "" {
		if err := t.persist(model, history, samples); err != nil {
			return history, samples, err
		}
	}
	return history, samples, nil
}

// persist Writes the final generator checkpoint, sample history and loss chart
func (t *Trainer) persist(model *Model, history []LossRecord, samples []*tensor.Dense) error {
	if err := os.MkdirAll(t.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "Can't create output directory")
	}
	if err := SaveCheckpoint(filepath.Join(t.OutputDir, "generator.ckpt"), model.GeneratorLearnables()); err != nil {
		return err
	}
	if err := SaveSamples(filepath.Join(t.OutputDir, "samples.gob"), samples); err != nil {
		return err
	}
	if len(history) > 0 {
		if err := PlotLossHistory(filepath.Join(t.OutputDir, "losses.png"), history); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) logger() *log.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return log.New(os.Stderr, "dcgan: ", log.LstdFlags)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
