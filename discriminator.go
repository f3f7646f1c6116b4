package dcgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorNet Abstraction for discriminator part of GAN. It's simple convolutional classifier actually.
type DiscriminatorNet struct {
	private *Network
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(Layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{private: &Network{
		Name:   "discriminator",
		Layers: Layers,
	}}
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input.
//
// input - image batch of shape (batchSize, channels, height, width)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
// The returned pass exposes both the sigmoid probability (Out) and the raw
// logit of the classification layer (Logit); losses must consume the logit.
// One weight set may be applied to several inputs (real and generated batches)
// within a single step, so both scorings share identical decision boundaries.
//
func (net *DiscriminatorNet) Fwd(input *gorgonia.Node, batchSize int) (*Pass, error) {
	pass, err := net.private.Fwd(input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return pass, nil
}

// FwdInference Feedforward against running normalization statistics; see Network.FwdInference
func (net *DiscriminatorNet) FwdInference(input *gorgonia.Node, batchSize int, stats []*NormInput) (*Pass, error) {
	pass, err := net.private.FwdInference(input, batchSize, stats)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return pass, nil
}

// DefineDiscriminator Builds the DCGAN discriminator on the provided graph:
// a stack of stride-2 convolutions progressively halving spatial resolution and
// doubling channel depth (no pooling, all downsampling is by convolution stride),
// leaky rectifier throughout, normalization on every convolution except the first,
// then flatten and a single-logit classification layer with a sigmoid head.
func DefineDiscriminator(g *gorgonia.ExprGraph, cfg Config) (*DiscriminatorNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	init := cfg.initializer()
	// Depth doubles per stage up to base/2; resolution ends at (H/8,W/8).
	depths := []int{cfg.ImageChannels, cfg.BaseDepth / 8, cfg.BaseDepth / 4, cfg.BaseDepth / 2}
	layers := make([]*Layer, 0, len(depths)+1)
	for stage := 0; stage < 3; stage++ {
		inC, outC := depths[stage], depths[stage+1]
		conv := &Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(outC, inC, 5, 5), gorgonia.WithName(fmt.Sprintf("discriminator_conv_%d_w", stage)), gorgonia.WithInit(init)),
			BiasNode:     gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, outC, 1, 1), gorgonia.WithName(fmt.Sprintf("discriminator_conv_%d_b", stage)), gorgonia.WithInit(init)),
			Type:         LayerConvolutional,
			KernelHeight: 5,
			KernelWidth:  5,
			Padding:      []int{2, 2},
			Stride:       []int{2, 2},
			Dilation:     []int{1, 1},
			Activation:   LeakyRectify(cfg.Alpha),
		}
		if stage > 0 {
			conv.BatchNorm = true
			conv.ScaleNode = batchNormScale(g, outC, fmt.Sprintf("discriminator_bn_%d_scale", stage))
			conv.ShiftNode = batchNormShift(g, outC, fmt.Sprintf("discriminator_bn_%d_shift", stage))
		}
		layers = append(layers, conv)
	}
	flatDim := (cfg.BaseDepth / 2) * (cfg.ImageHeight / 8) * (cfg.ImageWidth / 8)
	layers = append(layers,
		&Layer{
			Type:       LayerFlatten,
			Activation: NoActivation,
		},
		&Layer{
			WeightNode: gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, flatDim), gorgonia.WithName("discriminator_logit_w"), gorgonia.WithInit(init)),
			BiasNode:   gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, 1), gorgonia.WithName("discriminator_logit_b"), gorgonia.WithInit(init)),
			Type:       LayerLinear,
			Activation: Sigmoid,
		},
	)
	return Discriminator(layers...), nil
}
