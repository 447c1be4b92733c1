package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Curve is one named series rendered on the summary plot.
type Curve struct {
	Name string
	X    []float64
	Y    []float64
	// YErr, when non-nil, draws symmetric error bars.
	YErr []float64
	// Line draws a continuous line instead of scatter points (fits).
	Line bool
}

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

func makePoints(c Curve) (*errorPoints, error) {
	if len(c.X) != len(c.Y) {
		return nil, fmt.Errorf("series %q: x/y length mismatch %d vs %d", c.Name, len(c.X), len(c.Y))
	}
	pts := &errorPoints{
		XYs:     make(plotter.XYs, len(c.X)),
		YErrors: make(plotter.YErrors, len(c.X)),
	}
	for i := range c.X {
		pts.XYs[i].X = c.X[i]
		pts.XYs[i].Y = c.Y[i]
		if c.YErr != nil {
			pts.YErrors[i].Low = c.YErr[i]
			pts.YErrors[i].High = c.YErr[i]
		}
	}
	return pts, nil
}

var seriesColors = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
}

// SavePlot renders the curves to a PNG at path.
func SavePlot(path, title, xLabel, yLabel string, curves []Curve) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	for i, c := range curves {
		pts, err := makePoints(c)
		if err != nil {
			return err
		}
		col := seriesColors[i%len(seriesColors)]

		if c.Line {
			line, err := plotter.NewLine(pts.XYs)
			if err != nil {
				return fmt.Errorf("series %q: %w", c.Name, err)
			}
			line.Color = col
			p.Add(line)
			p.Legend.Add(c.Name, line)
			continue
		}

		scatter, err := plotter.NewScatter(pts.XYs)
		if err != nil {
			return fmt.Errorf("series %q: %w", c.Name, err)
		}
		scatter.GlyphStyle.Color = col
		p.Add(scatter)
		p.Legend.Add(c.Name, scatter)

		if c.YErr != nil {
			bars, err := plotter.NewYErrorBars(pts)
			if err != nil {
				return fmt.Errorf("series %q error bars: %w", c.Name, err)
			}
			bars.Color = col
			p.Add(bars)
		}
	}

	return p.Save(7*vg.Inch, 5*vg.Inch, path)
}
