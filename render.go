package dcgan

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// RenderSampleGrid Renders a generated image batch of shape (N, C, H, W) into a
// PNG grid with the requested number of rows. Pixel values are renormalized from
// the batch's own extremes, so early low-contrast samples stay visible.
// Single-channel batches render as grayscale, three-channel ones as RGB.
func RenderSampleGrid(fname string, batch *tensor.Dense, rows int) error {
	shp := batch.Shape()
	if len(shp) != 4 {
		return fmt.Errorf("sample batch must be 4D, got shape %v", shp)
	}
	n, channels, height, width := shp[0], shp[1], shp[2], shp[3]
	if channels != 1 && channels != 3 {
		return fmt.Errorf("can render 1 or 3 channels only, got %d", channels)
	}
	if rows < 1 {
		return fmt.Errorf("grid must have one row atleast, got %d", rows)
	}
	data, ok := batch.Data().([]float64)
	if !ok {
		return fmt.Errorf("sample batch is not float64 backed, got %T", batch.Data())
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		hi = lo + 1
	}

	cols := (n + rows - 1) / rows
	img := image.NewRGBA(image.Rect(0, 0, cols*width, rows*height))
	sampleStride := channels * height * width
	planeStride := height * width
	for s := 0; s < n; s++ {
		cellX := (s % cols) * width
		cellY := (s / cols) * height
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				offset := s*sampleStride + y*width + x
				var r, g, b uint8
				if channels == 1 {
					v := uint8((data[offset] - lo) / (hi - lo) * 255.0)
					r, g, b = v, v, v
				} else {
					r = uint8((data[offset] - lo) / (hi - lo) * 255.0)
					g = uint8((data[offset+planeStride] - lo) / (hi - lo) * 255.0)
					b = uint8((data[offset+2*planeStride] - lo) / (hi - lo) * 255.0)
				}
				img.Set(cellX+x, cellY+y, color.RGBA{r, g, b, 255})
			}
		}
	}

	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create image file")
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return errors.Wrap(err, "Can't encode PNG")
	}
	return nil
}

// PlotLossHistory Plot chart of discriminator/generator losses over recorded steps
func PlotLossHistory(fname string, history []LossRecord) error {
	if len(history) == 0 {
		return fmt.Errorf("loss history is empty")
	}
	dLossData := make(plotter.XYs, len(history))
	gLossData := make(plotter.XYs, len(history))
	for i, rec := range history {
		dLossData[i].X = float64(rec.Step)
		dLossData[i].Y = rec.Discriminator
		gLossData[i].X = float64(rec.Step)
		gLossData[i].Y = rec.Generator
	}
	dLine, err := plotter.NewLine(dLossData)
	if err != nil {
		return errors.Wrap(err, "Can't init discriminator loss line")
	}
	dLine.Color = color.RGBA{R: 255, B: 128, A: 255}
	gLine, err := plotter.NewLine(gLossData)
	if err != nil {
		return errors.Wrap(err, "Can't init generator loss line")
	}
	gLine.Color = color.RGBA{B: 255, G: 128, A: 255}

	p := plot.New()
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	p.Add(dLine)
	p.Add(gLine)
	p.Legend.Add("discriminator", dLine)
	p.Legend.Add("generator", gLine)
	// Save the plot to a PNG file.
	if err := p.Save(8*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
