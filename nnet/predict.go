package nnet

import (
	"fmt"
	"gorgonia.org/tensor"
)

// Predict runs the network over the test loader exactly once and
// returns the stacked predictions [N, 2, H, W]. Row order is the
// loader's iteration order: the downstream consumer of the submission
// matches rows to samples by position, so dset must be a dataset that
// cannot shuffle (built without an rng).
func (n *Network) Predict(dset *Dataset) (*tensor.Dense, error) {
	if dset.rng != nil {
		return nil, fmt.Errorf("predict: test dataset must not be shuffleable")
	}
	shape := dset.Shape()
	h, w := shape[1], shape[2]
	out := make([]float32, 0, dset.Samples*FlowChannels*h*w)
	fmt.Println("start test")
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, _ := dset.NextBatch()
		flow, _, err := n.Fprop(x)
		if err != nil {
			return nil, err
		}
		out = append(out, flow.Data().([]float32)...)
	}
	fmt.Println("test done")
	return tensor.New(
		tensor.WithShape(dset.Samples, FlowChannels, h, w),
		tensor.WithBacking(out)), nil
}
