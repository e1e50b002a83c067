// Package export renders a document snapshot to PDF.
package export

import (
	"fmt"
	"io"
	"math"

	"github.com/cptaffe/sketchfs/sketch"
	"github.com/jung-kurt/gofpdf"
)

const (
	// UnitSize is the length of a scale-1 pencil mark in drawing units.
	UnitSize = 30.0

	// DimAlpha is the opacity of layers other than the current one.
	DimAlpha = 0.8

	margin  = 36.0 // points
	dotSize = 2.0  // radius of a scale-1 dot in drawing units
)

// box is an axis-aligned bounding box in drawing units.
type box struct {
	minX, minY, maxX, maxY float64
	empty                  bool
}

func (b *box) add(x, y float64) {
	if b.empty {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
		b.empty = false
		return
	}
	b.minX = math.Min(b.minX, x)
	b.maxX = math.Max(b.maxX, x)
	b.minY = math.Min(b.minY, y)
	b.maxY = math.Max(b.maxY, y)
}

func bounds(d sketch.Document) box {
	b := box{empty: true}
	for _, l := range d {
		for _, s := range l {
			for _, o := range s {
				if o.ID == sketch.PencilID {
					x0, y0, x1, y1 := sketch.Segment(o, UnitSize*float64(o.Scale))
					b.add(x0, y0)
					b.add(x1, y1)
					continue
				}
				r := dotSize * float64(o.Scale)
				b.add(o.X-r, o.Y-r)
				b.add(o.X+r, o.Y+r)
			}
		}
	}
	return b
}

// PDF writes d as a one-page A4 PDF.  The drawing is scaled to fit the page
// inside a margin and the page is turned to landscape when the drawing is
// wider than it is tall.  Layer current is drawn at full opacity and all
// others at DimAlpha.
func PDF(w io.Writer, d sketch.Document, current int) error {
	b := bounds(d)
	orient := "P"
	if !b.empty && b.maxX-b.minX > b.maxY-b.minY {
		orient = "L"
	}
	p := gofpdf.New(orient, "pt", "A4", "")
	p.SetCreator(sketch.ServiceName, true)
	p.AddPage()
	if b.empty {
		return output(p, w)
	}

	pw, ph := p.GetPageSize()
	bw, bh := b.maxX-b.minX, b.maxY-b.minY
	k := 1.0
	if bw > 0 || bh > 0 {
		k = math.Min((pw-2*margin)/math.Max(bw, 1), (ph-2*margin)/math.Max(bh, 1))
	}
	px := func(x float64) float64 { return margin + (x-b.minX)*k }
	py := func(y float64) float64 { return margin + (y-b.minY)*k }

	for i, l := range d {
		layerAlpha := DimAlpha
		if i == current {
			layerAlpha = 1
		}
		for _, s := range l {
			for _, o := range s {
				c := o.Color
				p.SetAlpha(layerAlpha*float64(c.A)/255, "Normal")
				p.SetDrawColor(int(c.R), int(c.G), int(c.B))
				p.SetFillColor(int(c.R), int(c.G), int(c.B))
				if o.ID == sketch.PencilID {
					x0, y0, x1, y1 := sketch.Segment(o, UnitSize*float64(o.Scale))
					p.SetLineWidth(math.Max(k*float64(o.Scale), 0.5))
					p.Line(px(x0), py(y0), px(x1), py(y1))
					continue
				}
				p.Circle(px(o.X), py(o.Y), dotSize*float64(o.Scale)*k, "F")
			}
		}
	}
	return output(p, w)
}

func output(p *gofpdf.Fpdf, w io.Writer) error {
	if err := p.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
