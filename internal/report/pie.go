// Package report renders analysis results as an SVG pie chart and terminal tables.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"os"
	"path/filepath"
)

// ErrNoData is returned when a chart has nothing to draw.
var ErrNoData = errors.New("no data to chart")

// TopCitiesTitle is the title of the violence ranking chart.
const TopCitiesTitle = "Quais as TOP 10 cidades mais Violentos do Brasil?"

// TopCitiesFile is the chart's file name inside the output directory.
const TopCitiesFile = "top_violent_cities.svg"

// palette follows matplotlib's default color cycle.
var palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Slice is one wedge of a pie chart.
type Slice struct {
	Label string
	Value float64
}

// PieChart describes a pie chart. Explode offsets wedges outward as a
// fraction of the radius; missing entries are zero.
type PieChart struct {
	Title   string
	Slices  []Slice
	Explode []float64
	Width   int
	Height  int
}

const (
	defaultWidth  = 720
	defaultHeight = 560
	pctDistance   = 0.6
	labelDistance = 1.1
)

func (c PieChart) explode(i int) float64 {
	if i < len(c.Explode) {
		return c.Explode[i]
	}
	return 0
}

// Percentages returns each slice's share of the total in percent.
func (c PieChart) Percentages() []float64 {
	var total float64
	for _, s := range c.Slices {
		total += s.Value
	}
	pct := make([]float64, len(c.Slices))
	if total == 0 {
		return pct
	}
	for i, s := range c.Slices {
		pct[i] = s.Value / total * 100
	}
	return pct
}

// RenderPie writes the chart as an SVG document. Wedges start at three
// o'clock and run counterclockwise.
func RenderPie(w io.Writer, c PieChart) error {
	pct := c.Percentages()
	var total float64
	for _, p := range pct {
		total += p
	}
	if total == 0 {
		return ErrNoData
	}

	width, height := c.Width, c.Height
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}
	cx, cy := float64(width)/2, float64(height)/2+20
	r := math.Min(float64(width), float64(height)-60) * 0.32

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`+"\n",
		width, height, width, height)
	fmt.Fprintf(bw, `<rect width="100%%" height="100%%" fill="white"/>`+"\n")
	fmt.Fprintf(bw, `<text x="%.2f" y="32" text-anchor="middle" font-size="18">%s</text>`+"\n",
		cx, html.EscapeString(c.Title))

	start := 0.0
	for i, s := range c.Slices {
		sweep := pct[i] / 100 * 2 * math.Pi
		mid := start + sweep/2
		ox := cx + c.explode(i)*r*math.Cos(mid)
		oy := cy - c.explode(i)*r*math.Sin(mid)
		color := palette[i%len(palette)]

		if sweep >= 2*math.Pi-1e-9 {
			fmt.Fprintf(bw, `<circle cx="%.2f" cy="%.2f" r="%.2f" fill="%s"/>`+"\n", ox, oy, r, color)
		} else if sweep > 0 {
			x1, y1 := ox+r*math.Cos(start), oy-r*math.Sin(start)
			x2, y2 := ox+r*math.Cos(start+sweep), oy-r*math.Sin(start+sweep)
			large := 0
			if sweep > math.Pi {
				large = 1
			}
			// sweep-flag 0 draws counterclockwise on screen
			fmt.Fprintf(bw, `<path d="M %.2f %.2f L %.2f %.2f A %.2f %.2f 0 %d 0 %.2f %.2f Z" fill="%s" stroke="white"/>`+"\n",
				ox, oy, x1, y1, r, r, large, x2, y2, color)
		}

		px, py := ox+pctDistance*r*math.Cos(mid), oy-pctDistance*r*math.Sin(mid)
		fmt.Fprintf(bw, `<text x="%.2f" y="%.2f" text-anchor="middle" dominant-baseline="middle" font-size="11">%.2f%%</text>`+"\n",
			px, py, pct[i])

		lx, ly := ox+labelDistance*r*math.Cos(mid), oy-labelDistance*r*math.Sin(mid)
		anchor := "start"
		if math.Cos(mid) < 0 {
			anchor = "end"
		}
		fmt.Fprintf(bw, `<text x="%.2f" y="%.2f" text-anchor="%s" dominant-baseline="middle" font-size="12">%s</text>`+"\n",
			lx, ly, anchor, html.EscapeString(s.Label))

		start += sweep
	}

	fmt.Fprintln(bw, `</svg>`)
	return bw.Flush()
}

// WritePie renders the chart to path, creating parent directories.
func WritePie(path string, c PieChart) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := RenderPie(f, c); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
