package nnet

import (
	"errors"
	"gorgonia.org/tensor"
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-6

func randFlow(t *testing.T, rng *rand.Rand, shape ...int) *tensor.Dense {
	t.Helper()
	data := make([]float32, Prod(shape))
	for i := range data {
		data[i] = rng.Float32()*20 - 10
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func TestEPEIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	flow := randFlow(t, rng, 3, 2, 8, 8)
	got, err := EPE(flow, flow)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("EPE of identical tensors = %v, want exactly 0", got)
	}
}

func TestEPEKnownValue(t *testing.T) {
	// constant displacement error (3, 4) at every pixel => EPE 5
	pred := randFlow(t, rand.New(rand.NewSource(2)), 2, 2, 4, 4)
	gd := make([]float32, 2*2*4*4)
	pd := pred.Data().([]float32)
	plane := 4 * 4
	for b := 0; b < 2; b++ {
		base := b * 2 * plane
		for j := 0; j < plane; j++ {
			gd[base+j] = pd[base+j] + 3
			gd[base+plane+j] = pd[base+plane+j] + 4
		}
	}
	gt := tensor.New(tensor.WithShape(2, 2, 4, 4), tensor.WithBacking(gd))
	got, err := EPE(pred, gt)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-5) > eps {
		t.Errorf("EPE = %v, want 5", got)
	}
}

func TestEPENonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10; i++ {
		pred := randFlow(t, rng, 2, 2, 6, 6)
		gt := randFlow(t, rng, 2, 2, 6, 6)
		got, err := EPE(pred, gt)
		if err != nil {
			t.Fatal(err)
		}
		if got < 0 || math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("EPE = %v, want finite and >= 0", got)
		}
	}
}

func TestEPEShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	cases := [][2][]int{
		{{2, 2, 8, 8}, {3, 2, 8, 8}},
		{{2, 2, 8, 8}, {2, 2, 8, 16}},
		{{2, 2, 8, 8}, {2, 3, 8, 8}},
	}
	for _, c := range cases {
		pred := randFlow(t, rng, c[0]...)
		gt := randFlow(t, rng, c[1]...)
		if _, err := EPE(pred, gt); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("EPE(%v, %v) err = %v, want shape mismatch", c[0], c[1], err)
		}
	}
	// well formed but not a flow tensor
	bad := randFlow(t, rng, 2, 4, 8, 8)
	if _, err := EPE(bad, bad); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("EPE on 4 channel tensor err = %v, want shape mismatch", err)
	}
}
