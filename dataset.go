package dcgan

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// pixelMax is the largest value of the source pixel encoding.
const pixelMax = 255.0

// Scale Rescales pixel values from the source [0;255] encoding into [lo;hi]
// (nominally [-1;1] to match the generator's tanh output range). The mapping
// x/255*(hi-lo)+lo is monotonic; it inverts exactly only for inputs that span
// the full source range.
func Scale(t *tensor.Dense, lo, hi float64) (*tensor.Dense, error) {
	if lo >= hi {
		return nil, fmt.Errorf("scale range [%f;%f] is empty", lo, hi)
	}
	src, ok := t.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("scaling expects float64 backing, got %T", t.Data())
	}
	data := make([]float64, len(src))
	copy(data, src)
	floats.Scale((hi-lo)/pixelMax, data)
	floats.AddConst(lo, data)
	return tensor.New(tensor.WithShape(t.Shape()...), tensor.WithBacking(data)), nil
}

// rangeSlice Just an iterator with step size = 1
type rangeSlice struct {
	StartIdx, EndIdx int
}

func (s rangeSlice) Start() int { return s.StartIdx }
func (s rangeSlice) End() int   { return s.EndIdx }
func (s rangeSlice) Step() int  { return 1 }

// Batch One mini-batch of paired images and labels.
// Labels are carried alongside for downstream classification use; the
// adversarial losses never consume them.
type Batch struct {
	Images *tensor.Dense
	Labels *tensor.Dense
}

// Dataset Paired image/label collections partitioned at construction.
//
// Images are stored sample-major as (N, channels, height, width); the raw test
// collection is split into validation and test partitions by a configurable
// fraction. Training images keep the source [0;255] encoding and are rescaled
// per batch.
//
type Dataset struct {
	TrainImages *tensor.Dense
	TrainLabels *tensor.Dense
	ValidImages *tensor.Dense
	ValidLabels *tensor.Dense
	TestImages  *tensor.Dense
	TestLabels  *tensor.Dense

	rnd *rand.Rand
}

// NewDataset Builds a dataset from raw train/test arrays.
//
// trainImages/testImages - 4D image tensors in the source (height, width, channels, N) layout
// trainLabels/testLabels - integer class identifiers, one per image
// validFraction - fraction of the test collection carved out as the validation partition
// seed - shuffling seed
//
// Axes are reordered so the sample index leads: (H, W, C, N) -> (N, C, H, W),
// Gorgonia's native convolution layout.
//
func NewDataset(trainImages, trainLabels, testImages, testLabels *tensor.Dense, validFraction float64, seed int64) (*Dataset, error) {
	if validFraction <= 0 || validFraction >= 1 {
		return nil, fmt.Errorf("validation fraction must be in (0;1), got %f", validFraction)
	}
	train, err := sampleMajor(trainImages)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reorder training images")
	}
	test, err := sampleMajor(testImages)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reorder test images")
	}
	if err := checkPairing(train, trainLabels); err != nil {
		return nil, errors.Wrap(err, "[train]")
	}
	if err := checkPairing(test, testLabels); err != nil {
		return nil, errors.Wrap(err, "[test]")
	}

	numTest := test.Shape()[0]
	numValid := int(float64(numTest) * validFraction)
	if numValid < 1 || numValid >= numTest {
		return nil, fmt.Errorf("validation fraction %f leaves an empty partition for %d test samples", validFraction, numTest)
	}
	validImages, err := sliceRows(test, 0, numValid)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice validation images")
	}
	validLabels, err := sliceRows(testLabels, 0, numValid)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice validation labels")
	}
	testOnlyImages, err := sliceRows(test, numValid, numTest)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice test images")
	}
	testOnlyLabels, err := sliceRows(testLabels, numValid, numTest)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice test labels")
	}
	return &Dataset{
		TrainImages: train,
		TrainLabels: trainLabels,
		ValidImages: validImages,
		ValidLabels: validLabels,
		TestImages:  testOnlyImages,
		TestLabels:  testOnlyLabels,
		rnd:         rand.New(rand.NewSource(seed)),
	}, nil
}

// CheckImageShape Verifies the stored per-sample image shape against the
// configured hyperparameters; a mismatch is fatal before model construction.
func (ds *Dataset) CheckImageShape(channels, height, width int) error {
	shp := ds.TrainImages.Shape()
	if shp[1] != channels || shp[2] != height || shp[3] != width {
		return fmt.Errorf("dataset image shape (%d, %d, %d) does not match configured (%d, %d, %d)", shp[1], shp[2], shp[3], channels, height, width)
	}
	return nil
}

// Batches Splits the training set into consecutive mini-batches of the requested
// size, each image batch rescaled to [-1;1].
//
// shuffle - when set, the training set is permuted in place first; the index
// permutation is applied to images and labels jointly, preserving pairing.
//
// The final partial slice is emitted as well (the remainder batch is not
// dropped); consumers that require a fixed batch size must skip it themselves.
//
func (ds *Dataset) Batches(batchSize int, shuffle bool) ([]Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle {
		if err := ds.shuffleTrain(); err != nil {
			return nil, errors.Wrap(err, "Can't shuffle training set")
		}
	}
	numTrain := ds.TrainImages.Shape()[0]
	batches := make([]Batch, 0, (numTrain+batchSize-1)/batchSize)
	for start := 0; start < numTrain; start += batchSize {
		end := start + batchSize
		if end > numTrain {
			end = numTrain
		}
		images, err := sliceRows(ds.TrainImages, start, end)
		if err != nil {
			return nil, errors.Wrap(err, "Can't slice image batch")
		}
		labels, err := sliceRows(ds.TrainLabels, start, end)
		if err != nil {
			return nil, errors.Wrap(err, "Can't slice label batch")
		}
		scaled, err := Scale(images, -1.0, 1.0)
		if err != nil {
			return nil, errors.Wrap(err, "Can't rescale image batch")
		}
		batches = append(batches, Batch{Images: scaled, Labels: labels})
	}
	return batches, nil
}

// shuffleTrain Applies one joint index permutation to training images and labels
func (ds *Dataset) shuffleTrain() error {
	numTrain := ds.TrainImages.Shape()[0]
	perm := ds.rnd.Perm(numTrain)
	shuffledImages, err := permuteRows(ds.TrainImages, perm)
	if err != nil {
		return err
	}
	shuffledLabels, err := permuteRows(ds.TrainLabels, perm)
	if err != nil {
		return err
	}
	ds.TrainImages = shuffledImages
	ds.TrainLabels = shuffledLabels
	return nil
}

// sampleMajor Reorders (H, W, C, N) image tensors to (N, C, H, W)
func sampleMajor(images *tensor.Dense) (*tensor.Dense, error) {
	if images.Dims() != 4 {
		return nil, fmt.Errorf("image tensor must be 4D, got %dD", images.Dims())
	}
	if err := images.T(3, 2, 0, 1); err != nil {
		return nil, errors.Wrap(err, "Can't transpose image axes")
	}
	reordered, ok := images.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("materialized tensor is not dense")
	}
	return reordered, nil
}

func checkPairing(images, labels *tensor.Dense) error {
	if labels.Shape()[0] != images.Shape()[0] {
		return fmt.Errorf("got %d images but %d labels", images.Shape()[0], labels.Shape()[0])
	}
	return nil
}

// sliceRows Returns a materialized copy of rows [start;end) along the leading axis
func sliceRows(t *tensor.Dense, start, end int) (*tensor.Dense, error) {
	view, err := t.Slice(rangeSlice{StartIdx: start, EndIdx: end})
	if err != nil {
		return nil, err
	}
	sliced, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("materialized slice is not dense")
	}
	return sliced, nil
}

// permuteRows Gathers rows of the leading axis by the provided permutation
func permuteRows(t *tensor.Dense, perm []int) (*tensor.Dense, error) {
	src, ok := t.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("permutation expects float64 backing, got %T", t.Data())
	}
	n := t.Shape()[0]
	if len(perm) != n {
		return nil, fmt.Errorf("permutation length %d does not match %d rows", len(perm), n)
	}
	stride := t.Shape().TotalSize() / n
	data := make([]float64, len(src))
	for dst, srcRow := range perm {
		copy(data[dst*stride:(dst+1)*stride], src[srcRow*stride:(srcRow+1)*stride])
	}
	return tensor.New(tensor.WithShape(t.Shape()...), tensor.WithBacking(data)), nil
}
