package dcgan

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ActivationFunc Just an alias to Gorgonia's api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Rectify(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }
func Softplus(a *gorgonia.Node) (*gorgonia.Node, error)     { return gorgonia.Softplus(a) }

// LeakyRectify Returns an activation function passing positive inputs unchanged
// and scaling negative ones by the fixed slope alpha.
//
// Composed as relu(x) - alpha*relu(-x) since Gorgonia's generated API has no
// dedicated elementwise leaky rectifier.
//
func LeakyRectify(alpha float64) ActivationFunc {
	return func(a *gorgonia.Node) (*gorgonia.Node, error) {
		pos, err := gorgonia.Rectify(a)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do relu(x)")
		}
		flipped, err := gorgonia.Neg(a)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do -1*x")
		}
		neg, err := gorgonia.Rectify(flipped)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do relu(-x)")
		}
		alphaScalar := gorgonia.NewScalar(a.Graph(), a.Dtype(), gorgonia.WithValue(alpha))
		scaled, err := gorgonia.Mul(alphaScalar, neg)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do alpha*relu(-x)")
		}
		return gorgonia.Sub(pos, scaled)
	}
}
