package nnet

import (
	"errors"
	"fmt"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"math"
)

var (
	// ErrShapeMismatch is returned when predicted and ground truth flow
	// tensors differ in shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrStateMismatch is returned when a checkpoint does not match the
	// live model parameters.
	ErrStateMismatch = errors.New("checkpoint state mismatch")
)

// EPE is the end-point-error between predicted and ground truth flow:
// the euclidean norm of the per pixel displacement difference, averaged
// over the spatial locations of each sample and then over the batch.
// Both tensors must be float32 with shape [B, 2, H, W].
func EPE(pred, gt *tensor.Dense) (float64, error) {
	if !pred.Shape().Eq(gt.Shape()) {
		return 0, fmt.Errorf("epe: %w: pred %v gt %v", ErrShapeMismatch, pred.Shape(), gt.Shape())
	}
	if len(pred.Shape()) != 4 || pred.Shape()[1] != 2 {
		return 0, fmt.Errorf("epe: %w: want [B,2,H,W] got %v", ErrShapeMismatch, pred.Shape())
	}
	b, plane := pred.Shape()[0], pred.Shape()[2]*pred.Shape()[3]
	pd := pred.Data().([]float32)
	gd := gt.Data().([]float32)
	var total float64
	for i := 0; i < b; i++ {
		base := i * 2 * plane
		var sum float64
		for j := 0; j < plane; j++ {
			dx := float64(pd[base+j] - gd[base+j])
			dy := float64(pd[base+plane+j] - gd[base+plane+j])
			sum += math.Sqrt(dx*dx + dy*dy)
		}
		total += sum / float64(plane)
	}
	return total / float64(b), nil
}

// epeCost builds the same end-point-error expression on graph nodes so
// that it can be differentiated during training.
func epeCost(pred, gt *gorgonia.Node) (*gorgonia.Node, error) {
	if !pred.Shape().Eq(gt.Shape()) {
		return nil, fmt.Errorf("epe: %w: pred %v gt %v", ErrShapeMismatch, pred.Shape(), gt.Shape())
	}
	diff, err := gorgonia.Sub(pred, gt)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	// norm over the (dx, dy) channel axis
	sum, err := gorgonia.Sum(sq, 1)
	if err != nil {
		return nil, err
	}
	dist, err := gorgonia.Sqrt(sum)
	if err != nil {
		return nil, err
	}
	// every sample covers the same H*W locations, so the global mean
	// equals the spatial mean followed by the batch mean
	return gorgonia.Mean(dist)
}

// LossAggregation combines the primary prediction and the auxiliary
// multi scale outputs into the training cost.
type LossAggregation interface {
	Name() string
	Cost(flow *gorgonia.Node, aux map[string]*gorgonia.Node, gt *gorgonia.Node) (*gorgonia.Node, error)
}

// SingleScaleEPE trains on the full resolution prediction only. The
// auxiliary outputs are computed by the model but ignored here.
type SingleScaleEPE struct{}

func (SingleScaleEPE) Name() string { return "epe" }

func (SingleScaleEPE) Cost(flow *gorgonia.Node, aux map[string]*gorgonia.Node, gt *gorgonia.Node) (*gorgonia.Node, error) {
	return epeCost(flow, gt)
}
