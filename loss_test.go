package dcgan

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// evalScalar builds a one-shot tape machine for the loss node and returns its value.
func evalScalar(t *testing.T, g *gorgonia.ExprGraph, loss *gorgonia.Node) float64 {
	t.Helper()
	var lossVal gorgonia.Value
	gorgonia.Read(loss, &lossVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	v, ok := lossVal.Data().(float64)
	if !ok {
		t.Fatalf("expected scalar loss, got %T", lossVal.Data())
	}
	return v
}

func TestSigmoidCrossEntropyLossMatchesProbabilityForm(t *testing.T) {
	logits := []float64{-2.5, -0.7, 0.0, 0.4, 3.1}
	targets := []float64{0.0, 1.0, 1.0, 0.0, 1.0}

	g := gorgonia.NewGraph()
	x := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(5), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(5), tensor.WithBacking(logits))))
	y := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(5), gorgonia.WithName("y"), gorgonia.WithValue(tensor.New(tensor.WithShape(5), tensor.WithBacking(targets))))
	fromLogits, err := SigmoidCrossEntropyLoss(x, y)
	if err != nil {
		t.Fatal(err)
	}
	probs, err := gorgonia.Sigmoid(x)
	if err != nil {
		t.Fatal(err)
	}
	fromProbs, err := BinaryCrossEntropyLoss(probs, y)
	if err != nil {
		t.Fatal(err)
	}

	var logitVal, probVal gorgonia.Value
	gorgonia.Read(fromLogits, &logitVal)
	gorgonia.Read(fromProbs, &probVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	a := logitVal.Data().(float64)
	b := probVal.Data().(float64)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("logit-form loss %f disagrees with probability-form loss %f", a, b)
	}
}

func TestSigmoidCrossEntropyLossStaysFiniteAtSaturation(t *testing.T) {
	// At |logit| = 50 the sigmoid saturates to exactly 0/1 in float64 and the
	// probability-form loss blows up on log(0); the logit form must stay finite.
	logits := []float64{-50.0, 50.0}
	targets := []float64{1.0, 0.0}

	g := gorgonia.NewGraph()
	x := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(2), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(2), tensor.WithBacking(logits))))
	y := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(2), gorgonia.WithName("y"), gorgonia.WithValue(tensor.New(tensor.WithShape(2), tensor.WithBacking(targets))))
	loss, err := SigmoidCrossEntropyLoss(x, y)
	if err != nil {
		t.Fatal(err)
	}
	got := evalScalar(t, g, loss)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("loss at saturated logits must stay finite, got %f", got)
	}
	// softplus(-50)+50 = softplus(50) to machine precision, so both rows cost ~50
	if math.Abs(got-50.0) > 1e-6 {
		t.Fatalf("expected mean loss near 50 for fully wrong saturated logits, got %f", got)
	}
}

func TestSigmoidCrossEntropyLossNonNegative(t *testing.T) {
	logits := []float64{-4.0, -1.0, 0.0, 1.0, 4.0, 10.0}
	targets := []float64{0.0, 0.0, 1.0, 1.0, 1.0, 1.0}

	g := gorgonia.NewGraph()
	x := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(6), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(6), tensor.WithBacking(logits))))
	y := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(6), gorgonia.WithName("y"), gorgonia.WithValue(tensor.New(tensor.WithShape(6), tensor.WithBacking(targets))))
	loss, err := SigmoidCrossEntropyLoss(x, y, LossReductionSum)
	if err != nil {
		t.Fatal(err)
	}
	got := evalScalar(t, g, loss)
	if got < 0 {
		t.Fatalf("cross-entropy must be non-negative, got %f", got)
	}
}

func TestDiscriminatorLossAtZeroLogits(t *testing.T) {
	// With zero logits both terms reduce to softplus(0) = ln 2 regardless of
	// the target value, so d_loss = 2*ln 2 even under label smoothing.
	g := gorgonia.NewGraph()
	zeros := func(name string) *gorgonia.Node {
		return gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(4, 1), gorgonia.WithName(name), gorgonia.WithInit(gorgonia.Zeroes()))
	}
	dLoss, err := DiscriminatorLoss(zeros("real_logit"), zeros("fake_logit"), 0.1)
	if err != nil {
		t.Fatal(err)
	}
	got := evalScalar(t, g, dLoss)
	want := 2.0 * math.Ln2
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected d_loss %f at zero logits, got %f", want, got)
	}
}

func TestDiscriminatorLossRejectsForeignGraphs(t *testing.T) {
	g1 := gorgonia.NewGraph()
	g2 := gorgonia.NewGraph()
	realLogit := gorgonia.NewMatrix(g1, tensor.Float64, gorgonia.WithShape(2, 1), gorgonia.WithName("real_logit"), gorgonia.WithInit(gorgonia.Zeroes()))
	fakeLogit := gorgonia.NewMatrix(g2, tensor.Float64, gorgonia.WithShape(2, 1), gorgonia.WithName("fake_logit"), gorgonia.WithInit(gorgonia.Zeroes()))
	if _, err := DiscriminatorLoss(realLogit, fakeLogit, 0.0); err == nil {
		t.Fatal("expected error for logits from different graphs")
	}
}

func TestGeneratorLossAtZeroLogits(t *testing.T) {
	g := gorgonia.NewGraph()
	fake := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(4, 1), gorgonia.WithName("fake_logit"), gorgonia.WithInit(gorgonia.Zeroes()))
	gLoss, err := GeneratorLoss(fake)
	if err != nil {
		t.Fatal(err)
	}
	got := evalScalar(t, g, gLoss)
	if math.Abs(got-math.Ln2) > 1e-12 {
		t.Fatalf("expected g_loss ln 2 at zero logits, got %f", got)
	}
}

func TestMSELossReductions(t *testing.T) {
	// (1-1)^2 + (2-0)^2 + (3-6)^2 + (4-2)^2 = 0 + 4 + 9 + 4 = 17
	g := gorgonia.NewGraph()
	a := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(4), gorgonia.WithName("a"), gorgonia.WithValue(tensor.New(tensor.WithShape(4), tensor.WithBacking([]float64{1, 2, 3, 4}))))
	b := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(4), gorgonia.WithName("b"), gorgonia.WithValue(tensor.New(tensor.WithShape(4), tensor.WithBacking([]float64{1, 0, 6, 2}))))
	meanLoss, err := MSELoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	sumLoss, err := MSELoss(a, b, LossReductionSum)
	if err != nil {
		t.Fatal(err)
	}
	var meanVal, sumVal gorgonia.Value
	gorgonia.Read(meanLoss, &meanVal)
	gorgonia.Read(sumLoss, &sumVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	if got := meanVal.Data().(float64); math.Abs(got-4.25) > 1e-12 {
		t.Fatalf("expected mean reduction 4.25, got %f", got)
	}
	if got := sumVal.Data().(float64); math.Abs(got-17.0) > 1e-12 {
		t.Fatalf("expected sum reduction 17, got %f", got)
	}
}
