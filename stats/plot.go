package stats

import (
	"fmt"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// SavePlot renders the loss history as a chart at path. The format is
// taken from the file extension (.svg, .png, .pdf).
func (h *History) SavePlot(path string) error {
	if len(h.Points) == 0 {
		return fmt.Errorf("plot: empty history")
	}
	p := plot.New()
	p.Title.Text = "training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "EPE"
	p.Add(plotter.NewGrid())
	train := h.line(func(pt Point) (float64, bool) { return pt.Loss, true })
	addLine(p, train, "train", 0)
	if h.Points[0].HasValid {
		valid := h.line(func(pt Point) (float64, bool) { return pt.Valid, pt.HasValid })
		addLine(p, valid, "valid", 1)
	}
	return p.Save(16*vg.Centimeter, 12*vg.Centimeter, path)
}

func (h *History) line(get func(Point) (float64, bool)) plotter.XYs {
	var pts plotter.XYs
	for _, pt := range h.Points {
		if y, ok := get(pt); ok {
			pts = append(pts, plotter.XY{X: float64(pt.Epoch), Y: y})
		}
	}
	return pts
}

func addLine(p *plot.Plot, pts plotter.XYs, name string, ix int) {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return
	}
	l.Width = 2
	l.Color = plotutil.Color(ix)
	p.Add(l)
	p.Legend.Add(name, l)
}
