// Package stats accumulates training run statistics and renders the
// loss history as a plot.
package stats

import (
	"fmt"
	"math"
)

// EMA is an exponential moving average over a window of n values.
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Average is a running mean and stddev as per
// http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
		s.oldM, s.oldV = s.Mean, s.Var
		if s.Count > 1 {
			s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
		}
	}
}

func (s *Average) String() string {
	if s.StdDev < 0.01 {
		return fmt.Sprintf("%.2f", s.Mean)
	}
	return fmt.Sprintf("%.2f±%.2f", s.Mean, s.StdDev)
}

// Point is the loss of one epoch.
type Point struct {
	Epoch    int
	Loss     float64
	Valid    float64
	HasValid bool
}

// History collects per epoch losses over a run.
type History struct {
	Points []Point
	batch  Average
}

// Add appends one epoch to the history.
func (h *History) Add(p Point) {
	h.Points = append(h.Points, p)
}

// AddBatch folds a per batch loss into the running batch average.
func (h *History) AddBatch(loss float64) {
	h.batch.Add(loss)
}

// BatchLoss reports the running batch loss average.
func (h *History) BatchLoss() *Average {
	return &h.batch
}
