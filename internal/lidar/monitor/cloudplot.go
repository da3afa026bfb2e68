package monitor

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// PlotOptions controls the top-down cloud image.
type PlotOptions struct {
	Title string
	// Extent is the half-width of the square view in metres; 0 fits the data.
	Extent float64
	Size   vg.Length
	Format string // png, svg or pdf
}

func (o PlotOptions) withDefaults() PlotOptions {
	if o.Size <= 0 {
		o.Size = 8 * vg.Inch
	}
	if o.Format == "" {
		o.Format = "png"
	}
	if o.Title == "" {
		o.Title = "Velodyne scan (top-down)"
	}
	return o
}

// topDown returns the XY coordinates and intensities of the valid points.
func topDown(c *l2frames.OrganizedCloud) (plotter.XYs, []float64, float64) {
	xys := make(plotter.XYs, 0, len(c.Points)/2)
	intensities := make([]float64, 0, len(c.Points)/2)
	maxAbs := 0.0
	for i := range c.Points {
		p := &c.Points[i]
		if !p.Valid() {
			continue
		}
		x, y := float64(p.X), float64(p.Y)
		xys = append(xys, plotter.XY{X: x, Y: y})
		intensities = append(intensities, float64(p.Intensity))
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
	}
	return xys, intensities, maxAbs
}

// WriteTopDownPlot renders the valid points of c seen from above, coloured
// by intensity.
func WriteTopDownPlot(w io.Writer, c *l2frames.OrganizedCloud, o PlotOptions) error {
	o = o.withDefaults()
	xys, intensities, maxAbs := topDown(c)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %d points", o.Title, len(xys))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	extent := o.Extent
	if extent <= 0 {
		extent = maxAbs * 1.05
	}
	if extent == 0 {
		extent = 1
	}
	p.X.Min, p.X.Max = -extent, extent
	p.Y.Min, p.Y.Max = -extent, extent

	if len(xys) > 0 {
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("scatter: %w", err)
		}
		cmap := moreland.SmoothBlueRed()
		cmap.SetMin(0)
		cmap.SetMax(255)
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			col, err := cmap.At(intensities[i])
			if err != nil {
				col = color.Black
			}
			return draw.GlyphStyle{Color: col, Radius: vg.Points(0.6), Shape: draw.CircleGlyph{}}
		}
		p.Add(sc)
	}

	wt, err := p.WriterTo(o.Size, o.Size, o.Format)
	if err != nil {
		return fmt.Errorf("plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
