package nnet

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FlowChannels is the number of displacement components per pixel.
const FlowChannels = 2

const kernelSize = 3

// newParams allocates the parameter tensors for the flow network: a
// four stage stride 2 encoder, two residual convolutions at the
// bottleneck and a four stage decoder. Each decoder stage emits a flow
// prediction at its own scale; the last, full resolution one is the
// primary output.
func newParams(conf ModelConfig, inChannels int) []*Param {
	c0 := conf.BaseChannels
	specs := []struct {
		name    string
		out, in int
	}{
		{"enc1.w", c0, inChannels},
		{"enc2.w", 2 * c0, c0},
		{"enc3.w", 4 * c0, 2 * c0},
		{"enc4.w", 8 * c0, 4 * c0},
		{"res1.w", 8 * c0, 8 * c0},
		{"res2.w", 8 * c0, 8 * c0},
		{"dec3.w", 4 * c0, 8*c0 + 4*c0},
		{"flow0.w", FlowChannels, 4 * c0},
		{"dec2.w", 2 * c0, 4*c0 + 2*c0},
		{"flow1.w", FlowChannels, 2 * c0},
		{"dec1.w", c0, 2*c0 + c0},
		{"flow2.w", FlowChannels, c0},
		{"dec0.w", c0, c0},
		{"flow3.w", FlowChannels, c0},
	}
	params := make([]*Param, len(specs))
	for i, s := range specs {
		params[i] = &Param{
			Name:  s.name,
			Value: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(s.out, s.in, kernelSize, kernelSize)),
		}
	}
	return params
}

// forward builds the model expression on graph nodes. It returns the
// primary full resolution flow and the per scale flow map keyed
// "flow0" (coarsest) to "flow3" (primary).
func (n *Network) forward(x *gorgonia.Node, p map[string]*gorgonia.Node) (*gorgonia.Node, map[string]*gorgonia.Node, error) {
	enc1, err := convBlock(x, p["enc1.w"], 2)
	if err != nil {
		return nil, nil, err
	}
	enc2, err := convBlock(enc1, p["enc2.w"], 2)
	if err != nil {
		return nil, nil, err
	}
	enc3, err := convBlock(enc2, p["enc3.w"], 2)
	if err != nil {
		return nil, nil, err
	}
	enc4, err := convBlock(enc3, p["enc4.w"], 2)
	if err != nil {
		return nil, nil, err
	}
	res, err := convBlock(enc4, p["res1.w"], 1)
	if err != nil {
		return nil, nil, err
	}
	res, err = conv2d(res, p["res2.w"], 1)
	if err != nil {
		return nil, nil, err
	}
	sum, err := gorgonia.Add(enc4, res)
	if err != nil {
		return nil, nil, err
	}
	trunk, err := gorgonia.Rectify(sum)
	if err != nil {
		return nil, nil, err
	}

	aux := make(map[string]*gorgonia.Node, 4)
	d3, err := decodeBlock(trunk, enc3, p["dec3.w"])
	if err != nil {
		return nil, nil, err
	}
	if aux["flow0"], err = n.flowHead(d3, p["flow0.w"]); err != nil {
		return nil, nil, err
	}
	d2, err := decodeBlock(d3, enc2, p["dec2.w"])
	if err != nil {
		return nil, nil, err
	}
	if aux["flow1"], err = n.flowHead(d2, p["flow1.w"]); err != nil {
		return nil, nil, err
	}
	d1, err := decodeBlock(d2, enc1, p["dec1.w"])
	if err != nil {
		return nil, nil, err
	}
	if aux["flow2"], err = n.flowHead(d1, p["flow2.w"]); err != nil {
		return nil, nil, err
	}
	d0, err := decodeBlock(d1, nil, p["dec0.w"])
	if err != nil {
		return nil, nil, err
	}
	flow, err := n.flowHead(d0, p["flow3.w"])
	if err != nil {
		return nil, nil, err
	}
	aux["flow3"] = flow
	return flow, aux, nil
}

func conv2d(x, w *gorgonia.Node, stride int) (*gorgonia.Node, error) {
	return gorgonia.Conv2d(x, w, tensor.Shape{kernelSize, kernelSize},
		[]int{1, 1}, []int{stride, stride}, []int{1, 1})
}

func convBlock(x, w *gorgonia.Node, stride int) (*gorgonia.Node, error) {
	c, err := conv2d(x, w, stride)
	if err != nil {
		return nil, err
	}
	return gorgonia.Rectify(c)
}

// decodeBlock doubles the spatial resolution, concatenates the skip
// connection if present and applies one conv block.
func decodeBlock(x, skip, w *gorgonia.Node) (*gorgonia.Node, error) {
	up, err := gorgonia.Upsample2D(x, 2)
	if err != nil {
		return nil, err
	}
	if skip != nil {
		if up, err = gorgonia.Concat(1, up, skip); err != nil {
			return nil, err
		}
	}
	return convBlock(up, w, 1)
}

// flowHead maps decoder features to a (dx, dy) field, bounded by
// FlowScale through tanh.
func (n *Network) flowHead(x, w *gorgonia.Node) (*gorgonia.Node, error) {
	c, err := conv2d(x, w, 1)
	if err != nil {
		return nil, err
	}
	t, err := gorgonia.Tanh(c)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(t, gorgonia.NewConstant(float32(n.Model.FlowScale)))
}
