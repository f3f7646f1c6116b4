package dcgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorNet Abstraction for generator part of GAN
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet
func Generator(Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: Layers,
	}}
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input
//
// input - noise vector batch of shape (batchSize, zDim)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node, batchSize int) (*Pass, error) {
	pass, err := net.private.Fwd(input, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return pass, nil
}

// FwdInference Feedforward against running normalization statistics; see Network.FwdInference
func (net *GeneratorNet) FwdInference(input *gorgonia.Node, batchSize int, stats []*NormInput) (*Pass, error) {
	pass, err := net.private.FwdInference(input, batchSize, stats)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return pass, nil
}

// DefineGenerator Builds the DCGAN generator on the provided graph:
// a dense projection of the noise vector to a deep narrow feature map,
// then a stack of upsampling convolutions progressively doubling spatial
// resolution and halving channel depth. Normalization plus leaky rectifier
// on every stage except the last, which applies tanh directly so the output
// is bounded to [-1;1].
//
// Resulting output shape is (batch, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth).
//
func DefineGenerator(g *gorgonia.ExprGraph, cfg Config) (*GeneratorNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	startH := cfg.ImageHeight / 8
	startW := cfg.ImageWidth / 8
	base := cfg.BaseDepth
	init := cfg.initializer()

	projW := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(base*startH*startW, cfg.ZDim), gorgonia.WithName("generator_proj_w"), gorgonia.WithInit(init))
	projB := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, base*startH*startW), gorgonia.WithName("generator_proj_b"), gorgonia.WithInit(init))

	layers := []*Layer{
		{
			WeightNode: projW,
			BiasNode:   projB,
			Type:       LayerLinear,
			Activation: NoActivation,
		},
		{
			Type:        LayerReshape,
			ReshapeDims: []int{base, startH, startW},
			BatchNorm:   true,
			ScaleNode:   batchNormScale(g, base, "generator_bn_proj_scale"),
			ShiftNode:   batchNormShift(g, base, "generator_bn_proj_shift"),
			Activation:  LeakyRectify(cfg.Alpha),
		},
	}

	// Three upsampling stages: depth base -> base/2 -> base/4 -> channels,
	// resolution (H/8,W/8) -> (H/4,W/4) -> (H/2,W/2) -> (H,W).
	depths := []int{base, base / 2, base / 4, cfg.ImageChannels}
	for stage := 0; stage < 3; stage++ {
		inC, outC := depths[stage], depths[stage+1]
		layers = append(layers, &Layer{
			Type:          LayerUpsample,
			UpsampleScale: 2,
			Activation:    NoActivation,
		})
		conv := &Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(outC, inC, 5, 5), gorgonia.WithName(fmt.Sprintf("generator_conv_%d_w", stage)), gorgonia.WithInit(init)),
			BiasNode:     gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, outC, 1, 1), gorgonia.WithName(fmt.Sprintf("generator_conv_%d_b", stage)), gorgonia.WithInit(init)),
			Type:         LayerConvolutional,
			KernelHeight: 5,
			KernelWidth:  5,
			Padding:      []int{2, 2},
			Stride:       []int{1, 1},
			Dilation:     []int{1, 1},
		}
		if stage < 2 {
			conv.BatchNorm = true
			conv.ScaleNode = batchNormScale(g, outC, fmt.Sprintf("generator_bn_%d_scale", stage))
			conv.ShiftNode = batchNormShift(g, outC, fmt.Sprintf("generator_bn_%d_shift", stage))
			conv.Activation = LeakyRectify(cfg.Alpha)
		} else {
			conv.Activation = Tanh
		}
		layers = append(layers, conv)
	}
	return Generator(layers...), nil
}

func batchNormScale(g *gorgonia.ExprGraph, channels int, name string) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, channels, 1, 1), gorgonia.WithName(name), gorgonia.WithInit(gorgonia.Ones()))
}

func batchNormShift(g *gorgonia.ExprGraph, channels int, name string) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, channels, 1, 1), gorgonia.WithName(name), gorgonia.WithInit(gorgonia.Zeroes()))
}
