package dcgan

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model Explicit context object owning the expression graphs of the GAN, their
// input nodes, value taps, tape machines and solvers. Constructed once and passed
// to training/inference calls; there is no global graph state.
//
// Three graphs are used:
//
// genGraph - generator feedforward, a discriminator copy scoring the generated
// batch, and the generator loss. Only generator weights are stepped here.
// disGraph - two shared-weight discriminator feedforwards (real batch, generated
// batch fed as values) and the discriminator loss.
// evalGraph - an inference twin of both networks. Weights are shared with the
// training graphs by backing tensor; normalized layers read the model's running
// statistics, fed in as values before every run. The twin is never differentiated
// and never mutated, so evaluation and sampling are pure.
//
// The discriminator copy on genGraph shares backing tensors with the trainable
// discriminator, so the generator objective always differentiates through the
// discriminator's current decision boundary.
//
// Running normalization statistics live outside the graphs: every training step
// folds the batch statistics observed by each normalized layer into per-channel
// exponential moving averages, which the inference twin consumes.
//
type Model struct {
	cfg Config

	genGraph  *gorgonia.ExprGraph
	disGraph  *gorgonia.ExprGraph
	evalGraph *gorgonia.ExprGraph

	generator        *GeneratorNet
	discriminator    *DiscriminatorNet
	ganDiscriminator *DiscriminatorNet
	clonePairs       [][2]*gorgonia.Node

	noiseInput *gorgonia.Node
	realInput  *gorgonia.Node
	fakeInput  *gorgonia.Node

	genPass  *Pass
	realPass *Pass
	fakePass *Pass

	dLoss *gorgonia.Node
	gLoss *gorgonia.Node

	fakeVal  gorgonia.Value
	dLossVal gorgonia.Value
	gLossVal gorgonia.Value

	// inference twin state
	evalPairs      [][2]*gorgonia.Node
	noiseEvalInput *gorgonia.Node
	realEvalInput  *gorgonia.Node
	genStatInputs  []*NormInput
	disStatInputs  []*NormInput
	genStats       map[int]*runningStats
	disStats       map[int]*runningStats
	zeroReal       *tensor.Dense

	fakeEvalVal  gorgonia.Value
	dLossEvalVal gorgonia.Value
	gLossEvalVal gorgonia.Value

	// vmSample is compiled before Grad is called on genGraph, so its program
	// executes forward ops only; it produces the training-mode fake batch fed to
	// the discriminator update. vmEval owns the inference twin.
	vmSample gorgonia.VM
	vmEval   gorgonia.VM
	vmGen    gorgonia.VM
	vmDis    gorgonia.VM

	solverGen gorgonia.Solver
	solverDis gorgonia.Solver
}

// runningStats Per-channel exponential moving averages of one normalized layer's
// batch statistics. Mean starts at zero and variance at one, so an evaluation
// before any training step normalizes by the identity.
type runningStats struct {
	mean     []float64
	variance []float64
}

func newRunningStats(channels int) *runningStats {
	rs := &runningStats{
		mean:     make([]float64, channels),
		variance: make([]float64, channels),
	}
	for i := range rs.variance {
		rs.variance[i] = 1.0
	}
	return rs
}

// fold Blends one observed batch statistic into the running averages
func (rs *runningStats) fold(batchMean, batchVar []float64) {
	for i := range rs.mean {
		rs.mean[i] = batchNormMomentum*rs.mean[i] + (1.0-batchNormMomentum)*batchMean[i]
		rs.variance[i] = batchNormMomentum*rs.variance[i] + (1.0-batchNormMomentum)*batchVar[i]
	}
}

// NewModel Builds all graphs, losses, gradients, machines and solvers for the
// provided hyperparameters. Shape mismatches surface here, before any training.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Model]")
	}
	m := &Model{
		cfg:      cfg,
		genGraph: gorgonia.NewGraph(),
		disGraph: gorgonia.NewGraph(),
	}

	// Generator feedforward on its own graph
	definedGenerator, err := DefineGenerator(m.genGraph, cfg)
	if err != nil {
		return nil, err
	}
	m.generator = definedGenerator
	m.noiseInput = gorgonia.NewMatrix(m.genGraph, gorgonia.Float64, gorgonia.WithShape(cfg.BatchSize, cfg.ZDim), gorgonia.WithName("generator_input"))
	m.genPass, err = m.generator.Fwd(m.noiseInput, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	outShape := m.genPass.Out.Shape()
	want := tensor.Shape{cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth}
	if !outShape.Eq(want) {
		return nil, fmt.Errorf("generator output shape %v does not match configured image shape %v", outShape, want)
	}

	// Trainable discriminator applied twice (shared weights) on its own graph
	definedDiscriminator, err := DefineDiscriminator(m.disGraph, cfg)
	if err != nil {
		return nil, err
	}
	m.discriminator = definedDiscriminator
	m.realInput = gorgonia.NewTensor(m.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(want...), gorgonia.WithName("discriminator_real_input"))
	m.fakeInput = gorgonia.NewTensor(m.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(want...), gorgonia.WithName("discriminator_fake_input"))
	m.realPass, err = m.discriminator.Fwd(m.realInput, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	m.fakePass, err = m.discriminator.Fwd(m.fakeInput, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	// Discriminator copy on the generator graph, weights shared by backing tensor
	ganDisNet, clonePairs, err := cloneNetwork(m.genGraph, m.discriminator.private, "gan_discriminator", "_gan")
	if err != nil {
		return nil, err
	}
	m.ganDiscriminator = &DiscriminatorNet{private: ganDisNet}
	m.clonePairs = clonePairs
	clonePass, err := m.ganDiscriminator.Fwd(m.genPass.Out, cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[GAN]")
	}

	// Losses
	m.dLoss, err = DiscriminatorLoss(m.realPass.Logit, m.fakePass.Logit, cfg.LabelSmoothing)
	if err != nil {
		return nil, err
	}
	m.gLoss, err = GeneratorLoss(clonePass.Logit)
	if err != nil {
		return nil, err
	}

	// Output taps
	gorgonia.Read(m.genPass.Out, &m.fakeVal)
	gorgonia.Read(m.dLoss, &m.dLossVal)
	gorgonia.Read(m.gLoss, &m.gLossVal)

	// Forward-only sampling machine must be compiled before gradients extend genGraph
	m.vmSample = gorgonia.NewTapeMachine(m.genGraph)

	// Gradients, each restricted to its own network's parameter set
	if _, err = gorgonia.Grad(m.gLoss, m.generator.Learnables()...); err != nil {
		return nil, errors.Wrap(err, "Can't differentiate generator loss")
	}
	if _, err = gorgonia.Grad(m.dLoss, m.discriminator.Learnables()...); err != nil {
		return nil, errors.Wrap(err, "Can't differentiate discriminator loss")
	}

	m.vmGen = gorgonia.NewTapeMachine(m.genGraph, gorgonia.BindDualValues(m.generator.Learnables()...))
	m.vmDis = gorgonia.NewTapeMachine(m.disGraph, gorgonia.BindDualValues(m.discriminator.Learnables()...))

	m.solverGen = gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(cfg.BatchSize)), gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithBeta1(cfg.Beta1))
	m.solverDis = gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(cfg.BatchSize)), gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithBeta1(cfg.Beta1))

	if err = m.buildEvalTwin(want); err != nil {
		return nil, err
	}
	return m, nil
}

// buildEvalTwin Re-creates both networks on a dedicated inference graph: weights
// shared with the trainable networks by backing tensor, normalized layers reading
// running statistics fed as values. The twin computes generated images and both
// losses in one forward run and is never differentiated.
func (m *Model) buildEvalTwin(imageShape tensor.Shape) error {
	m.evalGraph = gorgonia.NewGraph()
	evalGenNet, genPairs, err := cloneNetwork(m.evalGraph, m.generator.private, "generator_eval", "_eval")
	if err != nil {
		return err
	}
	evalDisNet, disPairs, err := cloneNetwork(m.evalGraph, m.discriminator.private, "discriminator_eval", "_eval")
	if err != nil {
		return err
	}
	m.evalPairs = append(genPairs, disPairs...)
	m.genStatInputs = evalGenNet.NormInputs(m.evalGraph, "generator")
	m.disStatInputs = evalDisNet.NormInputs(m.evalGraph, "discriminator")
	m.genStats = newStatsFor(m.genStatInputs)
	m.disStats = newStatsFor(m.disStatInputs)

	m.noiseEvalInput = gorgonia.NewMatrix(m.evalGraph, gorgonia.Float64, gorgonia.WithShape(m.cfg.BatchSize, m.cfg.ZDim), gorgonia.WithName("generator_input_eval"))
	m.realEvalInput = gorgonia.NewTensor(m.evalGraph, gorgonia.Float64, 4, gorgonia.WithShape(imageShape...), gorgonia.WithName("discriminator_real_input_eval"))
	m.zeroReal = tensor.New(tensor.WithShape(imageShape...), tensor.WithBacking(make([]float64, imageShape.TotalSize())))

	genEvalPass, err := evalGenNet.FwdInference(m.noiseEvalInput, m.cfg.BatchSize, m.genStatInputs)
	if err != nil {
		return errors.Wrap(err, "[Generator]")
	}
	fakeEvalPass, err := evalDisNet.FwdInference(genEvalPass.Out, m.cfg.BatchSize, m.disStatInputs)
	if err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	realEvalPass, err := evalDisNet.FwdInference(m.realEvalInput, m.cfg.BatchSize, m.disStatInputs)
	if err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}

	dLossEval, err := DiscriminatorLoss(realEvalPass.Logit, fakeEvalPass.Logit, m.cfg.LabelSmoothing)
	if err != nil {
		return err
	}
	gLossEval, err := GeneratorLoss(fakeEvalPass.Logit)
	if err != nil {
		return err
	}
	gorgonia.Read(genEvalPass.Out, &m.fakeEvalVal)
	gorgonia.Read(dLossEval, &m.dLossEvalVal)
	gorgonia.Read(gLossEval, &m.gLossEvalVal)
	m.vmEval = gorgonia.NewTapeMachine(m.evalGraph)
	return nil
}

// cloneNetwork Copies the network's structure onto the provided graph. Learnable
// nodes are re-created with gorgonia.WithValue over the source values and
// additionally re-bound before dependent runs, so both graphs read the same
// backing tensors which the solver mutates in place.
func cloneNetwork(g *gorgonia.ExprGraph, src *Network, name, suffix string) (*Network, [][2]*gorgonia.Node, error) {
	layers := make([]*Layer, len(src.Layers))
	var pairs [][2]*gorgonia.Node
	for i, l := range src.Layers {
		if l == nil {
			return nil, nil, fmt.Errorf("Network's '%s' layer #%d is nil", src.Name, i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, nil, fmt.Errorf("Network's '%s' layer #%d has nil weight node", src.Name, i)
		}
		copied := &Layer{
			Activation:    l.Activation,
			Type:          l.Type,
			BatchNorm:     l.BatchNorm,
			KernelHeight:  l.KernelHeight,
			KernelWidth:   l.KernelWidth,
			Padding:       l.Padding,
			Stride:        l.Stride,
			Dilation:      l.Dilation,
			UpsampleScale: l.UpsampleScale,
			ReshapeDims:   l.ReshapeDims,
		}
		for _, link := range []struct {
			src *gorgonia.Node
			dst **gorgonia.Node
		}{
			{l.WeightNode, &copied.WeightNode},
			{l.BiasNode, &copied.BiasNode},
			{l.ScaleNode, &copied.ScaleNode},
			{l.ShiftNode, &copied.ShiftNode},
		} {
			if link.src == nil {
				continue
			}
			cloned := gorgonia.NewTensor(g, gorgonia.Float64, link.src.Dims(), gorgonia.WithShape(link.src.Shape()...), gorgonia.WithName(link.src.Name()+suffix), gorgonia.WithValue(link.src.Value()))
			*link.dst = cloned
			pairs = append(pairs, [2]*gorgonia.Node{link.src, cloned})
		}
		layers[i] = copied
	}
	clone := &Network{
		Name:   name,
		Layers: layers,
	}
	return clone, pairs, nil
}

// refreshPairs Re-binds cloned weight nodes to the source nodes' current values
func refreshPairs(pairs [][2]*gorgonia.Node) error {
	for _, pair := range pairs {
		if err := gorgonia.Let(pair[1], pair[0].Value()); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't rebind weight '%s'", pair[0].Name()))
		}
	}
	return nil
}

func newStatsFor(inputs []*NormInput) map[int]*runningStats {
	stats := make(map[int]*runningStats, len(inputs))
	for _, in := range inputs {
		stats[in.Layer] = newRunningStats(in.Mean.Shape()[1])
	}
	return stats
}

// foldTaps Updates running statistics from the batch statistics captured during a
// training-mode forward pass
func foldTaps(stats map[int]*runningStats, taps []*NormTap) error {
	for _, tap := range taps {
		rs, ok := stats[tap.Layer]
		if !ok {
			return fmt.Errorf("no running statistics tracked for normalized layer #%d", tap.Layer)
		}
		mean, err := floatSlice(tap.Mean)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't read batch mean of normalized layer #%d", tap.Layer))
		}
		variance, err := floatSlice(tap.Var)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't read batch variance of normalized layer #%d", tap.Layer))
		}
		if len(mean) != len(rs.mean) || len(variance) != len(rs.variance) {
			return fmt.Errorf("normalized layer #%d observed %d/%d channels, tracking %d", tap.Layer, len(mean), len(variance), len(rs.mean))
		}
		rs.fold(mean, variance)
	}
	return nil
}

// bindStats Feeds the current running averages into the inference twin's
// statistics input nodes
func bindStats(inputs []*NormInput, stats map[int]*runningStats) error {
	for _, in := range inputs {
		rs, ok := stats[in.Layer]
		if !ok {
			return fmt.Errorf("no running statistics tracked for normalized layer #%d", in.Layer)
		}
		channels := len(rs.mean)
		mean := tensor.New(tensor.WithShape(1, channels, 1, 1), tensor.WithBacking(append([]float64(nil), rs.mean...)))
		if err := gorgonia.Let(in.Mean, mean); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't bind running mean of normalized layer #%d", in.Layer))
		}
		variance := tensor.New(tensor.WithShape(1, channels, 1, 1), tensor.WithBacking(append([]float64(nil), rs.variance...)))
		if err := gorgonia.Let(in.Var, variance); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't bind running variance of normalized layer #%d", in.Layer))
		}
	}
	return nil
}

// GeneratorLearnables Returns learnables nodes of generator part
func (m *Model) GeneratorLearnables() gorgonia.Nodes {
	return m.generator.Learnables()
}

// DiscriminatorLearnables Returns learnables nodes of discriminator part
func (m *Model) DiscriminatorLearnables() gorgonia.Nodes {
	return m.discriminator.Learnables()
}

// Step Executes one adversarial training step on the provided real image batch
// and noise batch: a discriminator update on (real, generated) followed by a
// generator update reusing the same noise. The batch statistics observed by each
// network's normalized layers are folded into the model's running averages after
// its solver step. Returns the discriminator and generator losses observed during
// the step.
func (m *Model) Step(realBatch, noiseBatch *tensor.Dense) (dLoss, gLoss float64, err error) {
	if err = m.checkBatches(realBatch, noiseBatch); err != nil {
		return math.NaN(), math.NaN(), err
	}
	// Generate a fake batch with current generator weights
	if err = gorgonia.Let(m.noiseInput, noiseBatch); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't init generator input value")
	}
	if err = m.vmSample.RunAll(); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't feedforward generator")
	}
	m.vmSample.Reset()
	fakeBatch := m.fakeVal.(*tensor.Dense).Clone().(*tensor.Dense)

	// Discriminator update on (real, fake)
	if err = gorgonia.Let(m.realInput, realBatch); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't init discriminator real input value")
	}
	if err = gorgonia.Let(m.fakeInput, fakeBatch); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't init discriminator fake input value")
	}
	if err = m.vmDis.RunAll(); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't feedforward discriminator")
	}
	if err = m.solverDis.Step(gorgonia.NodesToValueGrads(m.discriminator.Learnables())); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't do discriminator solver step")
	}
	m.vmDis.Reset()
	dLoss = scalarFloat(m.dLossVal)
	// fold the real application's observed statistics into the running averages
	if err = foldTaps(m.disStats, m.realPass.NormTaps); err != nil {
		return math.NaN(), math.NaN(), err
	}

	// Generator update through the refreshed discriminator copy, same noise
	if err = refreshPairs(m.clonePairs); err != nil {
		return math.NaN(), math.NaN(), err
	}
	if err = gorgonia.Let(m.noiseInput, noiseBatch); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't init generator input value")
	}
	if err = m.vmGen.RunAll(); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't feedforward GAN")
	}
	if err = m.solverGen.Step(gorgonia.NodesToValueGrads(m.generator.Learnables())); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't do generator solver step")
	}
	m.vmGen.Reset()
	gLoss = scalarFloat(m.gLossVal)
	if err = foldTaps(m.genStats, m.genPass.NormTaps); err != nil {
		return math.NaN(), math.NaN(), err
	}
	return dLoss, gLoss, nil
}

// Losses Recomputes (d_loss, g_loss) for the provided batches on the inference
// twin, without applying any gradient update. Normalized layers read the running
// statistics and nothing is mutated, so two calls with identical weights and
// identical inputs return identical losses.
func (m *Model) Losses(realBatch, noiseBatch *tensor.Dense) (dLoss, gLoss float64, err error) {
	if err = m.checkBatches(realBatch, noiseBatch); err != nil {
		return math.NaN(), math.NaN(), err
	}
	if err = m.bindEvalTwin(noiseBatch, realBatch); err != nil {
		return math.NaN(), math.NaN(), err
	}
	if err = m.vmEval.RunAll(); err != nil {
		return math.NaN(), math.NaN(), errors.Wrap(err, "Can't feedforward inference twin")
	}
	m.vmEval.Reset()
	return scalarFloat(m.dLossEvalVal), scalarFloat(m.gLossEvalVal), nil
}

// Sample Runs the generator on the inference twin (running statistics instead of
// batch statistics) for the provided noise batch and returns the generated images.
func (m *Model) Sample(noiseBatch *tensor.Dense) (*tensor.Dense, error) {
	if err := m.checkNoise(noiseBatch); err != nil {
		return nil, err
	}
	if err := m.bindEvalTwin(noiseBatch, m.zeroReal); err != nil {
		return nil, err
	}
	if err := m.vmEval.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't feedforward inference twin")
	}
	m.vmEval.Reset()
	return m.fakeEvalVal.(*tensor.Dense).Clone().(*tensor.Dense), nil
}

// bindEvalTwin Rebinds the inference twin's weights to the trainable networks'
// current values and feeds it the running statistics and both input batches
func (m *Model) bindEvalTwin(noiseBatch, realBatch *tensor.Dense) error {
	if err := refreshPairs(m.evalPairs); err != nil {
		return err
	}
	if err := bindStats(m.genStatInputs, m.genStats); err != nil {
		return err
	}
	if err := bindStats(m.disStatInputs, m.disStats); err != nil {
		return err
	}
	if err := gorgonia.Let(m.noiseEvalInput, noiseBatch); err != nil {
		return errors.Wrap(err, "Can't init generator input value")
	}
	if err := gorgonia.Let(m.realEvalInput, realBatch); err != nil {
		return errors.Wrap(err, "Can't init discriminator real input value")
	}
	return nil
}

// Close Releases every tape machine owned by the model
func (m *Model) Close() {
	for _, vm := range []gorgonia.VM{m.vmSample, m.vmEval, m.vmGen, m.vmDis} {
		if vm != nil {
			vm.Close()
		}
	}
}

func (m *Model) checkBatches(realBatch, noiseBatch *tensor.Dense) error {
	wantReal := tensor.Shape{m.cfg.BatchSize, m.cfg.ImageChannels, m.cfg.ImageHeight, m.cfg.ImageWidth}
	if !realBatch.Shape().Eq(wantReal) {
		return fmt.Errorf("real batch shape %v does not match configured %v", realBatch.Shape(), wantReal)
	}
	return m.checkNoise(noiseBatch)
}

func (m *Model) checkNoise(noiseBatch *tensor.Dense) error {
	wantNoise := tensor.Shape{m.cfg.BatchSize, m.cfg.ZDim}
	if !noiseBatch.Shape().Eq(wantNoise) {
		return fmt.Errorf("noise batch shape %v does not match configured %v", noiseBatch.Shape(), wantNoise)
	}
	return nil
}

// scalarFloat Extracts a float64 out of a scalar (or single-element) value
func scalarFloat(v gorgonia.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		if len(data) > 0 {
			return data[0]
		}
	}
	return math.NaN()
}

// floatSlice Extracts float64 data out of a captured value
func floatSlice(v gorgonia.Value) ([]float64, error) {
	if v == nil {
		return nil, fmt.Errorf("value was never captured")
	}
	switch data := v.Data().(type) {
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	}
	return nil, fmt.Errorf("expected float64 data, got %T", v.Data())
}
