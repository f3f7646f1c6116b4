package dcgan

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TensorSnapshot Serialized form of one named parameter tensor
type TensorSnapshot struct {
	Shape []int
	Data  []float64
}

// Checkpoint Name-keyed snapshot of a network's learnable parameters
type Checkpoint map[string]TensorSnapshot

// SaveCheckpoint Persists the provided learnables as a gob-encoded snapshot
func SaveCheckpoint(path string, learnables gorgonia.Nodes) error {
	ckpt := make(Checkpoint, len(learnables))
	for _, n := range learnables {
		val, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("learnable '%s' has no dense value", n.Name())
		}
		data, ok := val.Data().([]float64)
		if !ok {
			return fmt.Errorf("learnable '%s' is not float64 backed", n.Name())
		}
		snap := TensorSnapshot{
			Shape: append([]int(nil), val.Shape()...),
			Data:  append([]float64(nil), data...),
		}
		ckpt[n.Name()] = snap
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "Can't create checkpoint file")
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		return errors.Wrap(err, "Can't encode checkpoint")
	}
	return nil
}

// LoadCheckpoint Reads a gob-encoded parameter snapshot
func LoadCheckpoint(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open checkpoint file")
	}
	defer f.Close()
	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "Can't decode checkpoint")
	}
	return ckpt, nil
}

// RestoreLearnables Rebinds every provided learnable to its snapshotted value.
// Every learnable must be present in the checkpoint with a matching shape.
func RestoreLearnables(learnables gorgonia.Nodes, ckpt Checkpoint) error {
	for _, n := range learnables {
		snap, ok := ckpt[n.Name()]
		if !ok {
			return fmt.Errorf("checkpoint has no parameter '%s'", n.Name())
		}
		if !n.Shape().Eq(tensor.Shape(snap.Shape)) {
			return fmt.Errorf("parameter '%s' has shape %v, checkpoint holds %v", n.Name(), n.Shape(), snap.Shape)
		}
		restored := tensor.New(tensor.WithShape(snap.Shape...), tensor.WithBacking(append([]float64(nil), snap.Data...)))
		if err := gorgonia.Let(n, restored); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't rebind parameter '%s'", n.Name()))
		}
	}
	return nil
}

// SaveSamples Persists the generated-sample history as gob-encoded snapshots
func SaveSamples(path string, samples []*tensor.Dense) error {
	snaps := make([]TensorSnapshot, 0, len(samples))
	for i, s := range samples {
		data, ok := s.Data().([]float64)
		if !ok {
			return fmt.Errorf("sample batch #%d is not float64 backed", i)
		}
		snaps = append(snaps, TensorSnapshot{
			Shape: append([]int(nil), s.Shape()...),
			Data:  append([]float64(nil), data...),
		})
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "Can't create samples file")
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(snaps); err != nil {
		return errors.Wrap(err, "Can't encode samples")
	}
	return nil
}

// LoadSamples Reads a gob-encoded generated-sample history
func LoadSamples(path string) ([]*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open samples file")
	}
	defer f.Close()
	var snaps []TensorSnapshot
	if err := gob.NewDecoder(f).Decode(&snaps); err != nil {
		return nil, errors.Wrap(err, "Can't decode samples")
	}
	samples := make([]*tensor.Dense, 0, len(snaps))
	for _, snap := range snaps {
		samples = append(samples, tensor.New(tensor.WithShape(snap.Shape...), tensor.WithBacking(snap.Data)))
	}
	return samples, nil
}
