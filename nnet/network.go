// Package nnet contains routines for training an event camera optical
// flow network and predicting flow on held out data.
package nnet

import (
	"fmt"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"math"
	"math/rand"
	"os"
	"time"
)

// Param is a named model parameter tensor. Parameters are updated in
// place by the optimizer and shared between all compiled graphs.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Network wraps the flow model parameters together with lazily compiled
// computation graphs. Graphs are cached per batch size so that a
// partial final batch does not force a rebuild on every step.
type Network struct {
	Config
	Params  []*Param
	inShape []int
	loss    LossAggregation
	solver  gorgonia.Solver
	train   map[int]*compiled
	eval    map[int]*compiled
}

type compiled struct {
	g       *gorgonia.ExprGraph
	x, gt   *gorgonia.Node
	flow    *gorgonia.Node
	aux     map[string]*gorgonia.Node
	cost    *gorgonia.Node
	costVal gorgonia.Value
	flowVal gorgonia.Value
	auxVal  map[string]*gorgonia.Value
	params  gorgonia.Nodes
	vm      gorgonia.VM
}

// New creates a network for inputs of shape [C, H, W]. H and W must be
// divisible by 16 to survive the four stride 2 encoder stages.
func New(conf Config, inShape []int) (*Network, error) {
	if len(inShape) != 3 {
		return nil, fmt.Errorf("network: input shape must be [C,H,W], got %v", inShape)
	}
	if inShape[1]%16 != 0 || inShape[2]%16 != 0 {
		return nil, fmt.Errorf("network: H and W must be divisible by 16, got %dx%d", inShape[1], inShape[2])
	}
	n := &Network{
		Config:  conf,
		inShape: append([]int{}, inShape...),
		loss:    SingleScaleEPE{},
		train:   make(map[int]*compiled),
		eval:    make(map[int]*compiled),
	}
	n.Params = newParams(conf.Model, inShape[0])
	n.solver = gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(conf.LearnRate),
		gorgonia.WithL2Reg(conf.WeightDecay),
	)
	return n, nil
}

// SetLoss replaces the default single scale EPE aggregation. Must be
// called before the first training step.
func (n *Network) SetLoss(l LossAggregation) {
	n.loss = l
}

// InitWeights fills every parameter from rng, scaled by 1/sqrt(nin) per
// layer. With a fixed seed two networks initialise identically.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, p := range n.Params {
		shape := p.Value.Shape()
		scale := 1 / math.Sqrt(float64(Prod(shape[1:])))
		data := p.Value.Data().([]float32)
		for i := range data {
			if n.Model.NormalWeights {
				data[i] = float32(rng.NormFloat64() * scale)
			} else {
				data[i] = float32((2*rng.Float64() - 1) * scale)
			}
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

func (n *Network) compile(batch int, training bool) (*compiled, error) {
	cache := n.eval
	if training {
		cache = n.train
	}
	if c, ok := cache[batch]; ok {
		return c, nil
	}
	g := gorgonia.NewGraph()
	pnodes := make(map[string]*gorgonia.Node, len(n.Params))
	params := make(gorgonia.Nodes, len(n.Params))
	for i, p := range n.Params {
		node := gorgonia.NewTensor(g, tensor.Float32, 4,
			gorgonia.WithName(p.Name), gorgonia.WithValue(p.Value))
		pnodes[p.Name] = node
		params[i] = node
	}
	x := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(append([]int{batch}, n.inShape...)...),
		gorgonia.WithName("event_volume"))
	flow, aux, err := n.forward(x, pnodes)
	if err != nil {
		return nil, fmt.Errorf("network: build graph: %w", err)
	}
	c := &compiled{g: g, x: x, flow: flow, aux: aux, params: params}
	gorgonia.Read(flow, &c.flowVal)
	c.auxVal = make(map[string]*gorgonia.Value, len(aux))
	for key, node := range aux {
		val := new(gorgonia.Value)
		gorgonia.Read(node, val)
		c.auxVal[key] = val
	}
	if training {
		c.gt = gorgonia.NewTensor(g, tensor.Float32, 4,
			gorgonia.WithShape(batch, FlowChannels, n.inShape[1], n.inShape[2]),
			gorgonia.WithName("flow_gt"))
		c.cost, err = n.loss.Cost(flow, aux, c.gt)
		if err != nil {
			return nil, err
		}
		gorgonia.Read(c.cost, &c.costVal)
		// only parameters feeding the cost are differentiated: with the
		// single scale loss the coarse flow heads stay at their init values
		c.params = trainable(g, c.cost, params)
		if _, err = gorgonia.Grad(c.cost, c.params...); err != nil {
			return nil, fmt.Errorf("network: grad: %w", err)
		}
		c.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(c.params...))
	} else {
		// evaluation mode: no gradient bindings, nothing is mutated
		c.vm = gorgonia.NewTapeMachine(g)
	}
	cache[batch] = c
	return c, nil
}

// trainable filters params down to the nodes cost depends on. Graph
// edges run from each op to its inputs, so a walk from the cost along
// outgoing edges visits exactly the nodes feeding it. The filtered set
// keeps the params order, so optimizer state lines up across the
// per batch size graphs.
func trainable(g *gorgonia.ExprGraph, cost *gorgonia.Node, params gorgonia.Nodes) gorgonia.Nodes {
	seen := map[int64]bool{cost.ID(): true}
	stack := []int64{cost.ID()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		it := g.From(id)
		for it.Next() {
			cid := it.Node().ID()
			if !seen[cid] {
				seen[cid] = true
				stack = append(stack, cid)
			}
		}
	}
	keep := make(gorgonia.Nodes, 0, len(params))
	for _, p := range params {
		if seen[p.ID()] {
			keep = append(keep, p)
		}
	}
	return keep
}

// TrainStep runs one forward and backward pass over the batch and
// applies a single Adam update, returning the batch loss.
func (n *Network) TrainStep(x, gt *tensor.Dense) (float64, error) {
	if x.Shape()[0] != gt.Shape()[0] {
		return 0, fmt.Errorf("train step: %w: event volume batch %d, flow batch %d",
			ErrShapeMismatch, x.Shape()[0], gt.Shape()[0])
	}
	c, err := n.compile(x.Shape()[0], true)
	if err != nil {
		return 0, err
	}
	if err = gorgonia.Let(c.x, x); err != nil {
		return 0, err
	}
	if err = gorgonia.Let(c.gt, gt); err != nil {
		return 0, err
	}
	if err = c.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("train step: %w", err)
	}
	loss := float64(c.costVal.Data().(float32))
	err = n.solver.Step(gorgonia.NodesToValueGrads(c.params))
	c.vm.Reset()
	if err != nil {
		return 0, fmt.Errorf("train step: %w", err)
	}
	return loss, nil
}

// Fprop feeds one batch of event volumes forward and returns the full
// resolution flow prediction plus the auxiliary multi scale outputs.
func (n *Network) Fprop(x *tensor.Dense) (*tensor.Dense, map[string]*tensor.Dense, error) {
	if len(x.Shape()) != 4 || !x.Shape()[1:].Eq(tensor.Shape(n.inShape)) {
		return nil, nil, fmt.Errorf("fprop: %w: input %v, model wants [B %v]",
			ErrShapeMismatch, x.Shape(), n.inShape)
	}
	c, err := n.compile(x.Shape()[0], false)
	if err != nil {
		return nil, nil, err
	}
	if err = gorgonia.Let(c.x, x); err != nil {
		return nil, nil, err
	}
	if err = c.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("fprop: %w", err)
	}
	flow := c.flowVal.(*tensor.Dense).Clone().(*tensor.Dense)
	aux := make(map[string]*tensor.Dense, len(c.auxVal))
	for key, val := range c.auxVal {
		aux[key] = (*val).(*tensor.Dense).Clone().(*tensor.Dense)
	}
	c.vm.Reset()
	return flow, aux, nil
}

// Print parameter summaries, used at high debug levels
func (n *Network) PrintWeights() {
	for _, p := range n.Params {
		data := p.Value.Data().([]float32)
		var sum float64
		for _, v := range data {
			sum += float64(v)
		}
		fmt.Printf("== %-8s %v mean=%.6f\n", p.Name, p.Value.Shape(), sum/float64(len(data)))
	}
}

// Prod returns the product of the dims in shape.
func Prod(shape []int) int {
	p := 1
	for _, d := range shape {
		p *= d
	}
	return p
}

// SetSeed seeds the process wide random source, or picks a clock seed
// if seed <= 0.
func SetSeed(seed int64) {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	rand.Seed(seed)
}

// CheckErr exits in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
