package dcgan

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func TestRenderSampleGrid(t *testing.T) {
	// 4 RGB samples of 2x2 pixels arranged in 2 rows
	batch := tensor.New(tensor.WithShape(4, 3, 2, 2), tensor.WithBacking(func() []float64 {
		data := make([]float64, 4*3*2*2)
		for i := range data {
			data[i] = -1.0 + 2.0*float64(i)/float64(len(data)-1)
		}
		return data
	}()))
	fname := filepath.Join(t.TempDir(), "grid.png")
	if err := RenderSampleGrid(fname, batch, 2); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 4 {
		t.Fatalf("expected a 4x4 pixel grid (2x2 cells of 2x2 images), got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderSampleGridRejectsBadInput(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "grid.png")
	flat := tensor.New(tensor.WithShape(4, 4), tensor.WithBacking(make([]float64, 16)))
	if err := RenderSampleGrid(fname, flat, 2); err == nil {
		t.Fatal("expected error for a non-4D batch")
	}
	twoChannel := tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking(make([]float64, 8)))
	if err := RenderSampleGrid(fname, twoChannel, 1); err == nil {
		t.Fatal("expected error for a 2-channel batch")
	}
}

func TestPlotLossHistory(t *testing.T) {
	history := []LossRecord{
		{Step: 1, Discriminator: 1.4, Generator: 0.7},
		{Step: 2, Discriminator: 1.2, Generator: 0.9},
		{Step: 3, Discriminator: 1.1, Generator: 1.0},
	}
	fname := filepath.Join(t.TempDir(), "losses.png")
	if err := PlotLossHistory(fname, history); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(fname)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("loss plot file is empty")
	}
}
