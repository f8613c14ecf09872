package nnet

import (
	"errors"
	"gorgonia.org/tensor"
	"math"
	"math/rand"
	"testing"
)

func testConfig() Config {
	c := DefaultConfig()
	c.LearnRate = 1e-3
	c.Model = ModelConfig{BaseChannels: 2, FlowScale: 16}
	return c
}

func testNet(t *testing.T, seed int64) *Network {
	t.Helper()
	net, err := New(testConfig(), []int{2, 16, 16})
	if err != nil {
		t.Fatal(err)
	}
	net.InitWeights(rand.New(rand.NewSource(seed)))
	return net
}

func TestInitWeightsDeterministic(t *testing.T) {
	a := testNet(t, 42)
	b := testNet(t, 42)
	for i, p := range a.Params {
		pa := p.Value.Data().([]float32)
		pb := b.Params[i].Value.Data().([]float32)
		for j := range pa {
			if pa[j] != pb[j] {
				t.Fatalf("param %s differs at %d: %v vs %v", p.Name, j, pa[j], pb[j])
			}
		}
	}
	c := testNet(t, 43)
	same := true
	for i, p := range a.Params {
		pa := p.Value.Data().([]float32)
		pc := c.Params[i].Value.Data().([]float32)
		for j := range pa {
			if pa[j] != pc[j] {
				same = false
			}
		}
	}
	if same {
		t.Error("different seeds produced identical weights")
	}
}

func TestFpropShapes(t *testing.T) {
	net := testNet(t, 1)
	rng := rand.New(rand.NewSource(2))
	x := randFlow(t, rng, 3, 2, 16, 16)
	flow, aux, err := net.Fprop(x)
	if err != nil {
		t.Fatal(err)
	}
	want := tensor.Shape{3, 2, 16, 16}
	if !flow.Shape().Eq(want) {
		t.Errorf("flow shape %v, want %v", flow.Shape(), want)
	}
	scales := map[string][]int{
		"flow0": {3, 2, 2, 2},
		"flow1": {3, 2, 4, 4},
		"flow2": {3, 2, 8, 8},
		"flow3": {3, 2, 16, 16},
	}
	for key, shape := range scales {
		out, ok := aux[key]
		if !ok {
			t.Errorf("auxiliary output %s missing", key)
			continue
		}
		if !out.Shape().Eq(tensor.Shape(shape)) {
			t.Errorf("%s shape %v, want %v", key, out.Shape(), shape)
		}
	}
	// flow head is bounded by FlowScale
	for _, v := range flow.Data().([]float32) {
		if math.Abs(float64(v)) > net.Model.FlowScale {
			t.Fatalf("flow value %v outside +-%v", v, net.Model.FlowScale)
		}
	}
}

func TestFpropShapeMismatch(t *testing.T) {
	net := testNet(t, 1)
	x := randFlow(t, rand.New(rand.NewSource(3)), 2, 3, 16, 16)
	if _, _, err := net.Fprop(x); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want shape mismatch", err)
	}
}

func TestTrainStepUpdatesWeights(t *testing.T) {
	net := testNet(t, 4)
	rng := rand.New(rand.NewSource(5))
	x := randFlow(t, rng, 2, 2, 16, 16)
	gt := randFlow(t, rng, 2, 2, 16, 16)
	before := make([]float32, len(net.Params[0].Value.Data().([]float32)))
	copy(before, net.Params[0].Value.Data().([]float32))
	loss, err := net.TrainStep(x, gt)
	if err != nil {
		t.Fatal(err)
	}
	if loss < 0 || math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("loss = %v, want finite and >= 0", loss)
	}
	after := net.Params[0].Value.Data().([]float32)
	changed := false
	for i := range after {
		if after[i] != before[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("optimizer step left the weights unchanged")
	}
}

func paramValues(t *testing.T, net *Network, name string) []float32 {
	t.Helper()
	for _, p := range net.Params {
		if p.Name == name {
			out := make([]float32, len(p.Value.Data().([]float32)))
			copy(out, p.Value.Data().([]float32))
			return out
		}
	}
	t.Fatalf("no parameter named %s", name)
	return nil
}

func TestTrainStepCoarseHeadsStayAtInit(t *testing.T) {
	net := testNet(t, 8)
	rng := rand.New(rand.NewSource(9))
	x := randFlow(t, rng, 2, 2, 16, 16)
	gt := randFlow(t, rng, 2, 2, 16, 16)
	before := map[string][]float32{}
	for _, name := range []string{"flow0.w", "flow1.w", "flow2.w", "flow3.w", "enc1.w"} {
		before[name] = paramValues(t, net, name)
	}
	// two steps: the default loss trains only the full resolution path
	for i := 0; i < 2; i++ {
		if _, err := net.TrainStep(x, gt); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"flow0.w", "flow1.w", "flow2.w"} {
		after := paramValues(t, net, name)
		for i := range after {
			if after[i] != before[name][i] {
				t.Fatalf("%s moved at %d: %v vs %v", name, i, after[i], before[name][i])
			}
		}
	}
	for _, name := range []string{"flow3.w", "enc1.w"} {
		after := paramValues(t, net, name)
		changed := false
		for i := range after {
			if after[i] != before[name][i] {
				changed = true
				break
			}
		}
		if !changed {
			t.Errorf("%s did not move", name)
		}
	}
}

func TestTrainStepBatchMismatch(t *testing.T) {
	net := testNet(t, 6)
	rng := rand.New(rand.NewSource(7))
	x := randFlow(t, rng, 2, 2, 16, 16)
	gt := randFlow(t, rng, 3, 2, 16, 16)
	if _, err := net.TrainStep(x, gt); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want shape mismatch", err)
	}
}
