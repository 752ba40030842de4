// Package export renders finished runs as PNG charts.
package export

import (
	"bufio"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/san-kum/stabsim/internal/dynamo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	outputColor    = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	referenceColor = color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff}
	errorColor     = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// Series picks a value out of a sample.
type Series struct {
	Name  string
	Color color.Color
	Value func(dynamo.Sample) float64
}

var (
	Output    = Series{"output", outputColor, func(s dynamo.Sample) float64 { return s.Output }}
	Reference = Series{"reference", referenceColor, func(s dynamo.Sample) float64 { return s.Reference }}
	Error     = Series{"error", errorColor, func(s dynamo.Sample) float64 { return s.Error }}
)

// VoltagePlot builds a chart of the selected series against logical time.
func VoltagePlot(title string, samples []dynamo.Sample, series ...Series) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("plot data invalid: no samples")
	}
	if len(series) == 0 {
		series = []Series{Output, Reference}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "voltage (V)"
	p.Add(plotter.NewGrid())
	stylePlot(p)

	for _, s := range series {
		pts := make(plotter.XYs, len(samples))
		for i, sample := range samples {
			pts[i].X = sample.T
			pts[i].Y = s.Value(sample)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.Name, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = s.Color
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}
	p.Legend.Top = true
	return p, nil
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
}

// SavePNG renders p to filename at the given size in inches.
func SavePNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}

// WriteChart renders output and reference, plus error in a second file
// when withError is set.
func WriteChart(dir string, samples []dynamo.Sample, withError bool) ([]string, error) {
	p, err := VoltagePlot("Output voltage", samples, Output, Reference)
	if err != nil {
		return nil, err
	}
	files := []string{filepath.Join(dir, "voltage.png")}
	if err := SavePNG(p, 8, 4, files[0]); err != nil {
		return nil, err
	}
	if !withError {
		return files, nil
	}

	p, err = VoltagePlot("Tracking error", samples, Error)
	if err != nil {
		return nil, err
	}
	files = append(files, filepath.Join(dir, "error.png"))
	if err := SavePNG(p, 8, 4, files[1]); err != nil {
		return nil, err
	}
	return files, nil
}
