package nnet

import (
	"fmt"
	"github.com/evcam/flownet/stats"
	"gonum.org/v1/gonum/stat"
	"time"
)

// window in epochs for the smoothed validation loss
const emaWindow = 5

// Stats holds the results of one training epoch.
type Stats struct {
	Epoch    int
	Loss     float64
	Valid    float64
	AvgValid float64
	HasValid bool
	Elapsed  time.Duration
}

// BatchFunc observes the loss of each training batch as it is computed.
type BatchFunc func(epoch, batch int, loss float64)

// Tester is called after each epoch with the mean training loss. It
// returns true when training should stop.
type Tester interface {
	Test(net *Network, epoch int, loss float64, start time.Time) (bool, error)
}

// TestBase records epoch stats and optionally evaluates a held out
// validation set. It never stops training early: the loop always runs
// the configured number of epochs.
type TestBase struct {
	Valid    *Dataset
	Stats    []Stats
	avgValid float64
}

// NewTestBase creates a Tester without a validation phase.
func NewTestBase() *TestBase {
	return &TestBase{}
}

func (t *TestBase) Test(net *Network, epoch int, loss float64, start time.Time) (bool, error) {
	s := Stats{Epoch: epoch, Loss: loss}
	if t.Valid != nil {
		val, err := Evaluate(net, t.Valid)
		if err != nil {
			return false, err
		}
		t.avgValid = stats.EMA(t.avgValid).Add(val, emaWindow)
		s.Valid, s.AvgValid, s.HasValid = val, t.avgValid, true
	}
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return epoch >= net.Epochs-1, nil
}

type testLogger struct {
	*TestBase
	onEpoch func(Stats)
}

// NewTestLogger returns a Tester which logs epoch stats to stdout and
// forwards them to onEpoch if set. valid enables the validation phase.
func NewTestLogger(valid *Dataset, onEpoch func(Stats)) Tester {
	return testLogger{TestBase: &TestBase{Valid: valid}, onEpoch: onEpoch}
}

func (t testLogger) Test(net *Network, epoch int, loss float64, start time.Time) (bool, error) {
	done, err := t.TestBase.Test(net, epoch, loss, start)
	if err != nil {
		return done, err
	}
	s := t.Stats[len(t.Stats)-1]
	msg := fmt.Sprintf("epoch %d, loss: %g", s.Epoch, s.Loss)
	if s.HasValid {
		msg += fmt.Sprintf(", validation loss: %g (avg %.4g)", s.Valid, s.AvgValid)
	}
	fmt.Println(msg)
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	if t.onEpoch != nil {
		t.onEpoch(s)
	}
	return done, nil
}

// Train runs the full set of epochs over dset, updating the weights
// once per batch. Any failure in the forward, backward or update path
// aborts the run: there is no skip batch or retry policy.
func Train(net *Network, dset *Dataset, test Tester, onBatch BatchFunc) error {
	start := time.Now()
	for epoch := 0; epoch < net.Epochs; epoch++ {
		loss, err := TrainEpoch(net, dset, epoch, onBatch)
		if err != nil {
			return err
		}
		done, err := test.Test(net, epoch, loss, start)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}

// TrainEpoch makes one pass over the training loader and returns the
// mean per batch loss.
func TrainEpoch(net *Network, dset *Dataset, epoch int, onBatch BatchFunc) (float64, error) {
	if net.TrainShuffle {
		dset.Shuffle()
	}
	dset.NextEpoch()
	fmt.Println("on epoch:", epoch)
	losses := make([]float64, dset.Batches)
	for batch := 0; batch < dset.Batches; batch++ {
		x, gt := dset.NextBatch()
		if gt == nil {
			return 0, fmt.Errorf("train: dataset has no ground truth flow")
		}
		loss, err := net.TrainStep(x, gt)
		if err != nil {
			return 0, err
		}
		fmt.Printf("batch %d loss: %g\n", batch, loss)
		if onBatch != nil {
			onBatch(epoch, batch, loss)
		}
		losses[batch] = loss
	}
	return stat.Mean(losses, nil), nil
}

// Evaluate computes the mean per sample EPE of the network over dset
// without touching the weights.
func Evaluate(net *Network, dset *Dataset) (float64, error) {
	dset.NextEpoch()
	var total float64
	for batch := 0; batch < dset.Batches; batch++ {
		x, gt := dset.NextBatch()
		if gt == nil {
			return 0, fmt.Errorf("evaluate: dataset has no ground truth flow")
		}
		flow, _, err := net.Fprop(x)
		if err != nil {
			return 0, err
		}
		epe, err := EPE(flow, gt)
		if err != nil {
			return 0, err
		}
		total += epe * float64(x.Shape()[0])
	}
	return total / float64(dset.Samples), nil
}
