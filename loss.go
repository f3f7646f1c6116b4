package dcgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(a *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(a)
	case LossReductionMean:
		return gorgonia.Mean(a)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// SigmoidCrossEntropyLoss Binary cross-entropy computed directly from pre-activation
// logits as softplus(x) - x*target, the numerically stable combination of sigmoid and
// cross-entropy. Never apply a sigmoid before this loss: feeding saturated probabilities
// into a separate log-loss overflows at extreme logit values, while this form stays
// finite and non-negative.
// Default reduction is 'mean'
func SigmoidCrossEntropyLoss(logits, targets *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	softplus, err := gorgonia.Softplus(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do softplus(x)")
	}
	weighted, err := gorgonia.HadamardProd(logits, targets)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	loss, err := gorgonia.Sub(softplus, weighted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-y)")
	}
	return reduce(loss, reduction...)
}

// BinaryCrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// Computed from probabilities: -B*log(A) - (1-B)*log(1-A). Safe only for non-saturated
// inputs; adversarial losses use SigmoidCrossEntropyLoss instead.
// Default reduction is 'mean'
func BinaryCrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	logMain, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	negMain, err := gorgonia.Neg(logMain)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	hprodMain, err := gorgonia.HadamardProd(negMain, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}

	onesTensor := gorgonia.NewTensor(a.Graph(), a.Dtype(), a.Dims(), gorgonia.WithShape(a.Shape()...), gorgonia.WithInit(gorgonia.Ones()))
	complementA, err := gorgonia.Sub(onesTensor, a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	logBin, err := gorgonia.Log(complementA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1-A)")
	}
	negBin, err := gorgonia.Neg(logBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	complementB, err := gorgonia.Sub(onesTensor, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-B)")
	}
	hprodBin, err := gorgonia.HadamardProd(negBin, complementB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	hprod, err := gorgonia.Add(hprodMain, hprodBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	return reduce(hprod, reduction...)
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction...)
}

// DiscriminatorLoss Builds the discriminator objective from its logits on a real
// batch and on a generated batch (both scored with one shared weight set):
//
//	d_loss = mean BCE(real_logit, 1-smooth) + mean BCE(fake_logit, 0)
//
// Real images should be classified real (with optional one-sided label smoothing),
// generated ones fake. Both logits must live on one graph.
func DiscriminatorLoss(realLogit, fakeLogit *gorgonia.Node, smooth float64) (*gorgonia.Node, error) {
	if realLogit.Graph() != fakeLogit.Graph() {
		return nil, fmt.Errorf("discriminator loss requires real and fake logits on one graph")
	}
	realTargets := gorgonia.NewTensor(realLogit.Graph(), realLogit.Dtype(), realLogit.Dims(), gorgonia.WithShape(realLogit.Shape()...), gorgonia.WithName("d_loss_real_target"), gorgonia.WithInit(gorgonia.ValuesOf(1.0-smooth)))
	fakeTargets := gorgonia.NewTensor(realLogit.Graph(), realLogit.Dtype(), realLogit.Dims(), gorgonia.WithShape(realLogit.Shape()...), gorgonia.WithName("d_loss_fake_target"), gorgonia.WithInit(gorgonia.Zeroes()))

	dLossReal, err := SigmoidCrossEntropyLoss(realLogit, realTargets)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build discriminator loss on real batch")
	}
	gorgonia.WithName("d_loss_real")(dLossReal)
	dLossFake, err := SigmoidCrossEntropyLoss(fakeLogit, fakeTargets)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build discriminator loss on generated batch")
	}
	gorgonia.WithName("d_loss_fake")(dLossFake)
	dLoss, err := gorgonia.Add(dLossReal, dLossFake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	gorgonia.WithName("d_loss")(dLoss)
	return dLoss, nil
}

// GeneratorLoss Builds the generator objective from the discriminator's logits on
// a generated batch:
//
//	g_loss = mean BCE(fake_logit, 1)
//
// The generator wants the discriminator to call its fakes real - the non-saturating
// fooling objective, not the minimax log(1-D) form.
func GeneratorLoss(fakeLogit *gorgonia.Node) (*gorgonia.Node, error) {
	foolTargets := gorgonia.NewTensor(fakeLogit.Graph(), fakeLogit.Dtype(), fakeLogit.Dims(), gorgonia.WithShape(fakeLogit.Shape()...), gorgonia.WithName("g_loss_target"), gorgonia.WithInit(gorgonia.Ones()))
	gLoss, err := SigmoidCrossEntropyLoss(fakeLogit, foolTargets)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build generator loss")
	}
	gorgonia.WithName("g_loss")(gLoss)
	return gLoss, nil
}
