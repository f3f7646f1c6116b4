package dcgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
//
// A network holds weights only; every feedforward application produces a Pass,
// so the same weight set can be applied to several inputs on one graph.
//
type Network struct {
	Name   string
	Layers []*Layer
}

// NormTap Batch statistics of one normalized layer, captured during a
// training-mode forward pass.
//
// Layer - index of the normalized layer within the network
// Mean/Var - per-channel batch mean and variance observed by the last run
//
type NormTap struct {
	Layer int
	Mean  gorgonia.Value
	Var   gorgonia.Value
}

// NormInput Running-statistics input nodes of one normalized layer on an
// inference graph; bound to current running averages before every run.
type NormInput struct {
	Layer int
	Mean  *gorgonia.Node
	Var   *gorgonia.Node
}

// Pass One feedforward application of a network.
//
// Out - activated output of the last layer
// Logit - pre-activation output of the last layer
// NormTaps - batch statistics of each normalized layer (training-mode
// applications only; inference-mode applications carry none)
//
type Pass struct {
	Out      *gorgonia.Node
	Logit    *gorgonia.Node
	NormTaps []*NormTap
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 4*len(net.Layers))
	for _, l := range net.Layers {
		learnables = l.learnables(learnables)
	}
	return learnables
}

// NormInputs Creates running-statistics input nodes for every normalized layer of
// the network on the provided graph. One set can back several inference
// applications of the same weight set.
func (net *Network) NormInputs(g *gorgonia.ExprGraph, prefix string) []*NormInput {
	var inputs []*NormInput
	for i, l := range net.Layers {
		if l == nil || !l.BatchNorm || l.ScaleNode == nil {
			continue
		}
		channels := l.ScaleNode.Shape()[1]
		inputs = append(inputs, &NormInput{
			Layer: i,
			Mean:  gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, channels, 1, 1), gorgonia.WithName(fmt.Sprintf("%s_%d_running_mean", prefix, i))),
			Var:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, channels, 1, 1), gorgonia.WithName(fmt.Sprintf("%s_%d_running_var", prefix, i))),
		})
	}
	return inputs
}

// Fwd Initializates training-mode feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
// Per layer: affine op (and bias), then normalization when requested, then
// activation. Normalized layers use batch statistics and tap them for the caller.
//
func (net *Network) Fwd(input *gorgonia.Node, batchSize int) (*Pass, error) {
	return net.fwd(input, batchSize, nil)
}

// FwdInference Feedforward reading running statistics instead of computing batch
// statistics, so repeated calls with identical weights and inputs produce
// identical outputs and mutate nothing.
//
// stats - running-statistics input nodes, one per normalized layer (see NormInputs)
//
func (net *Network) FwdInference(input *gorgonia.Node, batchSize int, stats []*NormInput) (*Pass, error) {
	running := make(map[int]*NormInput, len(stats))
	for _, s := range stats {
		running[s.Layer] = s
	}
	return net.fwd(input, batchSize, running)
}

func (net *Network) fwd(input *gorgonia.Node, batchSize int, running map[int]*NormInput) (*Pass, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network '%s' must have one layer atleast", networkName)
	}

	pass := &Pass{}
	lastActivated := input
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("Network's '%s' layer #%d is nil", networkName, i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Network's '%s' layer's #%d WeightNode is nil", networkName, i)
		}
		nonActivated, err := l.Fwd(batchSize, lastActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Network '%s', Layer #%d] Can't feedforward input before activation", networkName, i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%d", networkName, i))(nonActivated)
		if l.BatchNorm {
			var normalized *gorgonia.Node
			if running == nil {
				var batchMean, batchVar *gorgonia.Node
				normalized, batchMean, batchVar, err = l.normalizeTraining(nonActivated)
				if err == nil {
					tap := &NormTap{Layer: i}
					gorgonia.Read(batchMean, &tap.Mean)
					gorgonia.Read(batchVar, &tap.Var)
					pass.NormTaps = append(pass.NormTaps, tap)
				}
			} else {
				stat, ok := running[i]
				if !ok {
					return nil, fmt.Errorf("Network's '%s' layer #%d has no running statistics input", networkName, i)
				}
				normalized, err = l.normalizeInference(nonActivated, stat.Mean, stat.Var)
			}
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("[Network '%s', Layer #%d] Can't normalize non-activated output", networkName, i))
			}
			nonActivated = normalized
		}
		if l.Activation == nil {
			return nil, fmt.Errorf("Network's '%s' layer #%d has nil activation", networkName, i)
		}
		activated, err := l.Activation(nonActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of Network's '%s' layer #%d", networkName, i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_activated_%d", networkName, i))(activated)
		lastActivated = activated
		if i == len(net.Layers)-1 {
			pass.Out = activated
			pass.Logit = nonActivated
		}
	}
	return pass, nil
}
