package analysis

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Palette colours treatments in sorted order.
var Palette = []color.Color{
	hexColor(0x5752D0),
	hexColor(0x36A6D6),
	hexColor(0x4ED55F),
	hexColor(0xF99205),
}

var (
	stimShade    = color.NRGBA{R: 255, A: 64}
	flygramShade = color.NRGBA{R: 0x8D, G: 0x8B, B: 0x90, A: 77}
)

func hexColor(v uint32) color.NRGBA {
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

func withAlpha(c color.Color, a uint8) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = a
	return n
}

// errorPoints feeds the error bar plotter.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// points returns bin centres with values; NaN bins are skipped and NaN errors
// drawn as zero.
func points(s Summary, factor float64) errorPoints {
	var pts errorPoints
	half := float64(s.BinSize) / 2
	for i := range s.Right {
		if math.IsNaN(s.Mean[i]) {
			continue
		}
		sem := s.SEM[i]
		if math.IsNaN(sem) {
			sem = 0
		}
		pts.XYs = append(pts.XYs, plotter.XY{X: s.Right[i] - half, Y: s.Mean[i] * factor})
		pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{sem * factor, sem * factor})
	}
	return pts
}

func maxWithError(pts errorPoints) float64 {
	top := 0.0
	for i, p := range pts.XYs {
		top = math.Max(top, p.Y+pts.YErrors[i].High)
	}
	return top
}

func shade(p *plot.Plot, start, end, top float64, c color.Color) error {
	poly, err := plotter.NewPolygon(plotter.XYs{{X: start, Y: 0}, {X: end, Y: 0}, {X: end, Y: top}, {X: start, Y: top}})
	if err != nil {
		return err
	}
	poly.Color = c
	poly.LineStyle.Width = 0
	p.Add(poly)
	return nil
}

// PlotCondition draws the 2x2 summary of a condition with error bars and the
// stimulus window shaded. The format follows the file extension.
func PlotCondition(cond *Condition, path string, width, height vg.Length) error {
	panels := make([]errorPoints, len(cond.Panels))
	top := 0.0
	for i, panel := range cond.Panels {
		panels[i] = points(panel.Summary, 1)
		top = math.Max(top, maxWithError(panels[i]))
	}
	if top == 0 {
		top = 1
	}
	top *= 1.05

	rows := (len(cond.Panels) + 1) / 2
	grid := make([][]*plot.Plot, rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, 2)
	}

	for i, panel := range cond.Panels {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Binned activity for roi %s", strings.TrimPrefix(panel.Region, "roi"))
		p.X.Label.Text = fmt.Sprintf("Time elapsed in %d second bins", cond.BinSize)
		p.Y.Label.Text = "Normalized mean number of active flies"
		p.Y.Min, p.Y.Max = 0, top

		if panel.HasStim {
			if err := shade(p, panel.StimStart, panel.StimEnd, top, stimShade); err != nil {
				return err
			}
		}
		if len(panels[i].XYs) > 0 {
			line, err := plotter.NewLine(panels[i].XYs)
			if err != nil {
				return err
			}
			line.LineStyle.Color = Palette[0]
			scatter, err := plotter.NewScatter(panels[i].XYs)
			if err != nil {
				return err
			}
			scatter.GlyphStyle.Color = Palette[0]
			scatter.GlyphStyle.Shape = draw.CircleGlyph{}
			bars, err := plotter.NewYErrorBars(panels[i])
			if err != nil {
				return err
			}
			bars.LineStyle.Color = Palette[0]
			p.Add(line, scatter, bars)
		}
		grid[i/2][i%2] = p
	}

	c, err := draw.NewFormattedCanvas(width, height, format(path))
	if err != nil {
		return err
	}
	dc := draw.New(c)
	tiles := draw.Tiles{Rows: rows, Cols: 2, PadX: vg.Millimeter * 4, PadY: vg.Millimeter * 4, PadTop: vg.Millimeter * 12}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for col, p := range grid[r] {
			if p != nil {
				p.Draw(canvases[r][col])
			}
		}
	}
	titleFont := plot.DefaultFont
	titleFont.Size = vg.Points(20)
	dc.FillText(draw.TextStyle{
		Color:   color.Black,
		Font:    titleFont,
		XAlign:  draw.XCenter,
		YAlign:  draw.YTop,
		Handler: plot.DefaultTextHandler,
	}, vg.Point{X: width / 2, Y: height - vg.Millimeter*2}, cond.Name)

	return writeCanvas(c, path)
}

// PlotFlygram draws one activity line per treatment with an SEM band. Values
// are percent activity unless baseline-normalised.
func PlotFlygram(fg *Flygram, stimLabel, path string, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = "flyGrAM Activity Summary"
	p.X.Label.Text = "Time Elapsed (sec)"
	p.Legend.Top = true

	factor := 100.0
	p.Y.Label.Text = "Percent Activity"
	p.Y.Min, p.Y.Max = 0, 90
	if fg.Normalized {
		factor = 1
		p.Y.Label.Text = "Activity Normalized to Baseline"
		p.Y.Max = 5
	}

	lastRight := 0.0
	for _, t := range fg.Treatments {
		if r := fg.Results[t].Right; len(r) > 0 {
			lastRight = math.Max(lastRight, r[len(r)-1])
		}
	}
	p.X.Min, p.X.Max = 0, lastRight+2*float64(fg.BinSize)

	if fg.HasStim {
		if err := shade(p, math.Floor(fg.StimStart), math.Floor(fg.StimEnd), p.Y.Max, flygramShade); err != nil {
			return err
		}
		if stimLabel != "" {
			labels, err := plotter.NewLabels(plotter.XYLabels{
				XYs:    plotter.XYs{{X: (fg.StimStart + fg.StimEnd - 2*float64(fg.BinSize)) / 2, Y: p.Y.Max * 0.9}},
				Labels: []string{stimLabel},
			})
			if err != nil {
				return err
			}
			labels.TextStyle[0].Color = flygramShade
			p.Add(labels)
		}
	}

	for i, t := range fg.Treatments {
		pts := points(fg.Results[t], factor)
		if len(pts.XYs) == 0 {
			continue
		}
		c := Palette[i%len(Palette)]

		band := make(plotter.XYs, 0, 2*len(pts.XYs))
		for k, pt := range pts.XYs {
			band = append(band, plotter.XY{X: pt.X, Y: pt.Y - pts.YErrors[k].Low})
		}
		for k := len(pts.XYs) - 1; k >= 0; k-- {
			band = append(band, plotter.XY{X: pts.XYs[k].X, Y: pts.XYs[k].Y + pts.YErrors[k].High})
		}
		poly, err := plotter.NewPolygon(band)
		if err != nil {
			return err
		}
		poly.Color = withAlpha(c, 102)
		poly.LineStyle.Width = 0

		line, err := plotter.NewLine(pts.XYs)
		if err != nil {
			return err
		}
		line.LineStyle.Color = c
		scatter, err := plotter.NewScatter(pts.XYs)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Color = c
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(1.5)

		p.Add(poly, line, scatter)
		p.Legend.Add(t, line, poly)
	}

	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func format(path string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	return "png"
}

func writeCanvas(c vg.CanvasWriterTo, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
