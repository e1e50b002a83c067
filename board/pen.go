package board

import "github.com/cptaffe/sketchfs/sketch"

// Pen turns a sequence of pointer positions into pencil marks.  Each mark
// is rotated to the heading from the previous position, so a stroke reads
// as a continuous line.  A Pen is not safe for concurrent use.
type Pen struct {
	b     *Board
	ID    int64
	Scale int

	down   bool
	lx, ly float64
}

// Pen returns a pen drawing sketch.PencilID marks of the given scale.
func (b *Board) Pen(scale int) *Pen {
	return &Pen{b: b, ID: sketch.PencilID, Scale: scale}
}

// MoveTo adds a mark at (x, y) to the current stroke.  The first mark
// after Lift has rotation 0.
func (p *Pen) MoveTo(x, y float64) error {
	rot := 0.0
	if p.down {
		rot = sketch.Heading(p.lx, p.ly, x, y)
	}
	if err := p.b.AddObject(p.ID, x, y, rot, p.Scale); err != nil {
		return err
	}
	p.down, p.lx, p.ly = true, x, y
	return nil
}

// Lift commits the stroke drawn since the last Lift.
func (p *Pen) Lift() error {
	p.down = false
	return p.b.Commit()
}
