package dcgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Batch normalization constants shared by every normalized layer.
const (
	batchNormMomentum = 0.9
	batchNormEpsilon  = 1e-5
)

// Layer Just an alias to Weight+Bias+Normalization+ActivationFunction combo
//
// WeightNode/BiasNode - learnable affine parameters (nil bias is allowed)
// ScaleNode/ShiftNode - learnable batch normalization parameters, required when BatchNorm is set.
// Training-mode applications normalize by the batch's own statistics and expose them for folding
// into running averages; inference-mode applications normalize by running statistics fed in as
// values and never mutate anything.
//
type Layer struct {
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	ScaleNode  *gorgonia.Node
	ShiftNode  *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType
	BatchNorm  bool

	KernelHeight  int
	KernelWidth   int
	Padding       []int
	Stride        []int
	Dilation      []int
	UpsampleScale int
	// ReshapeDims are per-sample dimensions; the batch dimension is prepended at feedforward time
	ReshapeDims []int
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerUpsample
	LayerReshape
)

var (
	allowedNoWeights = []LayerType{LayerFlatten, LayerReshape, LayerUpsample}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Fwd Applies the layer's affine operation (and bias) to the input node.
// Normalization and activation are applied by the owning network.
//
// batchSize - batch size. If it's >= 2 then broadcast function will be applied to bias addition
//
func (l *Layer) Fwd(batchSize int, input *gorgonia.Node) (*gorgonia.Node, error) {
	nonActivated := &gorgonia.Node{}
	var err error
	switch l.Type {
	case LayerLinear:
		tOp, err := gorgonia.Transpose(l.WeightNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		nonActivated, err = gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
	case LayerConvolutional:
		nonActivated, err = gorgonia.Conv2d(input, l.WeightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
	case LayerUpsample:
		nonActivated, err = gorgonia.Upsample2D(input, l.UpsampleScale)
		if err != nil {
			return nil, errors.Wrap(err, "Can't upsample[2D] input")
		}
	case LayerFlatten:
		nonActivated, err = gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
	case LayerReshape:
		dims := append([]int{batchSize}, l.ReshapeDims...)
		nonActivated, err = gorgonia.Reshape(input, dims)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input")
		}
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
	if l.BiasNode == nil {
		return nonActivated, nil
	}
	if batchSize < 2 {
		nonActivated, err = gorgonia.Add(nonActivated, l.BiasNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias to non-activated output")
		}
		return nonActivated, nil
	}
	broadcastAxes := []byte{0}
	if nonActivated.Dims() == 4 {
		broadcastAxes = []byte{0, 2, 3}
	}
	nonActivated, err = gorgonia.BroadcastAdd(nonActivated, l.BiasNode, nil, broadcastAxes)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't add [in broadcast term with batch_size = %d] bias to non-activated output", batchSize))
	}
	return nonActivated, nil
}

// normalizeTraining Applies batch normalization to the (4D) pre-activation output
// using the batch's own per-channel statistics, built from elementary ops so the
// whole path stays differentiable. The batch mean and variance nodes are returned
// alongside the output for folding into running statistics.
func (l *Layer) normalizeTraining(preActivated *gorgonia.Node) (out, batchMean, batchVar *gorgonia.Node, err error) {
	if err = l.checkNormalizable(preActivated); err != nil {
		return nil, nil, nil, err
	}
	channels := preActivated.Shape()[1]
	mean, err := gorgonia.Mean(preActivated, 0, 2, 3)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't compute batch mean")
	}
	batchMean, err = gorgonia.Reshape(mean, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't reshape batch mean")
	}
	centered, err := gorgonia.BroadcastSub(preActivated, batchMean, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't center input by batch mean")
	}
	squared, err := gorgonia.Square(centered)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't do (x^2)")
	}
	variance, err := gorgonia.Mean(squared, 0, 2, 3)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't compute batch variance")
	}
	batchVar, err = gorgonia.Reshape(variance, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't reshape batch variance")
	}
	out, err = l.normalizeWith(centered, batchVar)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, batchMean, batchVar, nil
}

// normalizeInference Applies batch normalization against externally provided
// running statistics. No batch statistics are computed and nothing is mutated, so
// repeated applications with identical inputs produce identical outputs.
func (l *Layer) normalizeInference(preActivated, runningMean, runningVar *gorgonia.Node) (*gorgonia.Node, error) {
	if err := l.checkNormalizable(preActivated); err != nil {
		return nil, err
	}
	centered, err := gorgonia.BroadcastSub(preActivated, runningMean, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't center input by running mean")
	}
	return l.normalizeWith(centered, runningVar)
}

func (l *Layer) checkNormalizable(preActivated *gorgonia.Node) error {
	if l.ScaleNode == nil || l.ShiftNode == nil {
		return fmt.Errorf("normalized layer must have scale and shift nodes")
	}
	if preActivated.Dims() != 4 {
		return fmt.Errorf("batch normalization expects 4D input, got %dD", preActivated.Dims())
	}
	return nil
}

// normalizeWith Divides the centered input by sqrt(variance+epsilon), then applies
// the learnable scale and shift.
func (l *Layer) normalizeWith(centered, variance *gorgonia.Node) (*gorgonia.Node, error) {
	eps := gorgonia.NewScalar(centered.Graph(), centered.Dtype(), gorgonia.WithValue(batchNormEpsilon))
	stabilized, err := gorgonia.Add(variance, eps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add epsilon to variance")
	}
	denom, err := gorgonia.Sqrt(stabilized)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(variance+epsilon)")
	}
	normalized, err := gorgonia.BroadcastHadamardDiv(centered, denom, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't divide centered input by deviation")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normalized, l.ScaleNode, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply normalization scale")
	}
	out, err := gorgonia.BroadcastAdd(scaled, l.ShiftNode, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply normalization shift")
	}
	return out, nil
}

// learnables Appends every learnable node of the layer to dst
func (l *Layer) learnables(dst gorgonia.Nodes) gorgonia.Nodes {
	if l == nil {
		return dst
	}
	for _, n := range []*gorgonia.Node{l.WeightNode, l.BiasNode, l.ScaleNode, l.ShiftNode} {
		if n != nil {
			dst = append(dst, n)
		}
	}
	return dst
}
