package dcgan

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Config Scalar hyperparameters for a single training run.
//
// ImageHeight/ImageWidth/ImageChannels - shape of real images (height and width must be divisible by 8,
// since both networks walk through three stride-2 resolution changes starting from a (H/8)x(W/8) map)
// ZDim - length of the latent noise vector
// BaseDepth - channel depth of the generator's projected feature map; every other depth in both
// networks is derived from it (must be divisible by 8)
// LearningRate, Beta1 - Adam solver parameters shared by both update procedures
// Alpha - negative slope of the leaky rectifier
// LabelSmoothing - one-sided smoothing applied to the "real" targets of the discriminator loss
// PrintEvery - loss evaluation/logging interval, in steps
// ShowEvery - sample generation interval, in steps
// ValidFraction - fraction of the raw test set carved out as the validation partition
// SampleRows - number of rows in rendered sample grids
// InitWFn - weight initializer, defaults to GlorotN(1.0) when nil
//
type Config struct {
	ImageHeight    int
	ImageWidth     int
	ImageChannels  int
	ZDim           int
	BaseDepth      int
	LearningRate   float64
	Beta1          float64
	Alpha          float64
	LabelSmoothing float64
	BatchSize      int
	Epochs         int
	PrintEvery     int
	ShowEvery      int
	ValidFraction  float64
	SampleRows     int
	Seed           int64
	InitWFn        gorgonia.InitWFn
}

// DefaultConfig Returns hyperparameters tuned for 32x32 RGB street-view digits
func DefaultConfig() Config {
	return Config{
		ImageHeight:    32,
		ImageWidth:     32,
		ImageChannels:  3,
		ZDim:           100,
		BaseDepth:      512,
		LearningRate:   0.0002,
		Beta1:          0.5,
		Alpha:          0.2,
		LabelSmoothing: 0.1,
		BatchSize:      64,
		Epochs:         25,
		PrintEvery:     10,
		ShowEvery:      100,
		ValidFraction:  0.5,
		SampleRows:     4,
		Seed:           1337,
	}
}

// Validate Reports the first hyperparameter that can not produce a well-formed model
func (cfg Config) Validate() error {
	if cfg.ImageHeight <= 0 || cfg.ImageHeight%8 != 0 {
		return fmt.Errorf("image height must be positive and divisible by 8, got %d", cfg.ImageHeight)
	}
	if cfg.ImageWidth <= 0 || cfg.ImageWidth%8 != 0 {
		return fmt.Errorf("image width must be positive and divisible by 8, got %d", cfg.ImageWidth)
	}
	if cfg.ImageChannels <= 0 {
		return fmt.Errorf("image channels must be positive, got %d", cfg.ImageChannels)
	}
	if cfg.ZDim <= 0 {
		return fmt.Errorf("noise vector length must be positive, got %d", cfg.ZDim)
	}
	if cfg.BaseDepth < 8 || cfg.BaseDepth%8 != 0 {
		return fmt.Errorf("base depth must be >= 8 and divisible by 8, got %d", cfg.BaseDepth)
	}
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", cfg.LearningRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 {
		return fmt.Errorf("beta1 must be in [0;1), got %f", cfg.Beta1)
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		return fmt.Errorf("leaky slope alpha must be in (0;1), got %f", cfg.Alpha)
	}
	if cfg.LabelSmoothing < 0 || cfg.LabelSmoothing >= 1 {
		return fmt.Errorf("label smoothing must be in [0;1), got %f", cfg.LabelSmoothing)
	}
	if cfg.BatchSize < 2 {
		return fmt.Errorf("batch size must be >= 2 (batch statistics are undefined for a single sample), got %d", cfg.BatchSize)
	}
	if cfg.Epochs <= 0 {
		return fmt.Errorf("number of epoches must be positive, got %d", cfg.Epochs)
	}
	if cfg.PrintEvery < 1 {
		return fmt.Errorf("print interval must be >= 1, got %d", cfg.PrintEvery)
	}
	if cfg.ShowEvery < 1 {
		return fmt.Errorf("show interval must be >= 1, got %d", cfg.ShowEvery)
	}
	if cfg.ValidFraction <= 0 || cfg.ValidFraction >= 1 {
		return fmt.Errorf("validation fraction must be in (0;1), got %f", cfg.ValidFraction)
	}
	if cfg.SampleRows < 1 {
		return fmt.Errorf("sample grid must have one row atleast, got %d", cfg.SampleRows)
	}
	return nil
}

func (cfg Config) initializer() gorgonia.InitWFn {
	if cfg.InitWFn != nil {
		return cfg.InitWFn
	}
	return gorgonia.GlorotN(1.0)
}
