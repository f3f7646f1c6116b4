package dcgan

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gorgonia.org/tensor"
)

// Raw dataset archives: one per split, each a zip of NumPy arrays holding a 4D
// image tensor and an integer label vector.
const (
	TrainArchive = "train_32x32.npz"
	TestArchive  = "test_32x32.npz"

	imagesMember = "X.npy"
	labelsMember = "y.npy"
)

// FetchDataset Downloads the named archives from baseURL into dir, skipping files
// already present locally. Called once before training; a failed download leaves
// no partial file behind.
func FetchDataset(dir, baseURL string, files ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "Can't create dataset directory")
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := downloadFile(path, baseURL+"/"+name); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't fetch '%s'", name))
		}
	}
	return nil
}

func downloadFile(path, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err = io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArchive Parses one dataset archive and validates it before any training
// begins: both members must be present, images must be a 4D numeric array in the
// source (height, width, channels, N) layout, labels a 1D integer vector of
// matching length. Every violation is fatal here.
func LoadArchive(path string) (images, labels *tensor.Dense, err error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't open dataset archive '%s'", path))
	}
	defer archive.Close()

	var imagesFile, labelsFile *zip.File
	for _, f := range archive.File {
		switch f.Name {
		case imagesMember:
			imagesFile = f
		case labelsMember:
			labelsFile = f
		}
	}
	if imagesFile == nil {
		return nil, nil, fmt.Errorf("archive '%s' has no '%s' member", path, imagesMember)
	}
	if labelsFile == nil {
		return nil, nil, fmt.Errorf("archive '%s' has no '%s' member", path, labelsMember)
	}

	imagesData, imagesShape, err := readArray(imagesFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't read '%s' of archive '%s'", imagesMember, path))
	}
	if len(imagesShape) != 4 {
		return nil, nil, fmt.Errorf("image tensor of archive '%s' must be 4D, got shape %v", path, imagesShape)
	}
	labelsData, labelsShape, err := readArray(labelsFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't read '%s' of archive '%s'", labelsMember, path))
	}
	if len(labelsShape) != 1 {
		return nil, nil, fmt.Errorf("label vector of archive '%s' must be 1D, got shape %v", path, labelsShape)
	}
	if imagesShape[3] != labelsShape[0] {
		return nil, nil, fmt.Errorf("archive '%s' holds %d images but %d labels", path, imagesShape[3], labelsShape[0])
	}
	images = tensor.New(tensor.WithShape(imagesShape...), tensor.WithBacking(imagesData))
	labels = tensor.New(tensor.WithShape(labelsShape...), tensor.WithBacking(labelsData))
	return images, labels, nil
}

// readArray Decodes one npy member into float64 data plus its shape.
// Accepts the dtypes the source containers actually use: uint8 pixels,
// int32/int64 labels, plain float64.
func readArray(f *zip.File) ([]float64, []int, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	r, err := npyio.NewReader(rc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't parse npy header")
	}
	if r.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("Fortran-ordered arrays are not supported")
	}
	shape := append([]int(nil), r.Header.Descr.Shape...)
	var data []float64
	switch dtype := r.Header.Descr.Type; dtype {
	case "|u1", "u1", "uint8":
		var pixels []uint8
		if err := r.Read(&pixels); err != nil {
			return nil, nil, errors.Wrap(err, "Can't read uint8 array")
		}
		data = make([]float64, len(pixels))
		for i, p := range pixels {
			data[i] = float64(p)
		}
	case "<i4", "i4", "int32":
		var ints []int32
		if err := r.Read(&ints); err != nil {
			return nil, nil, errors.Wrap(err, "Can't read int32 array")
		}
		data = make([]float64, len(ints))
		for i, v := range ints {
			data[i] = float64(v)
		}
	case "<i8", "i8", "int64":
		var ints []int64
		if err := r.Read(&ints); err != nil {
			return nil, nil, errors.Wrap(err, "Can't read int64 array")
		}
		data = make([]float64, len(ints))
		for i, v := range ints {
			data[i] = float64(v)
		}
	case "<f8", "f8", "float64":
		if err := r.Read(&data); err != nil {
			return nil, nil, errors.Wrap(err, "Can't read float64 array")
		}
	default:
		return nil, nil, fmt.Errorf("dtype '%s' is not handled", dtype)
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != len(data) {
		return nil, nil, fmt.Errorf("shape %v does not cover %d stored elements", shape, len(data))
	}
	return data, shape, nil
}
