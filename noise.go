package dcgan

import (
	rng "github.com/leesper/go_rng"
	"gorgonia.org/tensor"
)

// NoiseSource Deterministic source of latent noise vectors.
// The noise vector length is shared between the generator's input and every
// sampling call; a fresh batch is drawn independently for each forward pass.
type NoiseSource struct {
	uniform *rng.UniformGenerator
}

// NewNoiseSource Returns a noise source seeded for reproducible runs
func NewNoiseSource(seed int64) *NoiseSource {
	return &NoiseSource{uniform: rng.NewUniformGenerator(seed)}
}

// Uniform Return reference to tensor.Dense of shape (batchSize, n) filled with
// uniformly distributed float64 values in range [-1.0;1.0)
//
// batchSize - Simply batch size
// n - Number of elements in each batch (latent space size)
//
func (s *NoiseSource) Uniform(batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = s.uniform.Float64Range(-1.0, 1.0)
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}
