// Package document holds the live state of one drawing session: the layers
// of committed strokes, the stroke currently being drawn, and the cursor
// (current layer and current color) applied to new entities.
//
// Each of the four pieces of state has its own guard.  Operations that
// touch several pieces take all of their guards at once, in a fixed order,
// so that for example a commit observes the cursor, the buffer and the
// document as a single atomic step.
package document

import (
	"errors"
	"fmt"
	"math"

	"github.com/cptaffe/sketchfs/sketch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by Model operations.
var (
	ErrInvalidLayer = errors.New("invalid layer index")
	ErrPoisoned     = errors.New("state poisoned by an earlier failure")
)

// Model is the document state of one session.  All methods are safe for
// concurrent use.  Build one with New.
type Model struct {
	session string
	log     *zap.Logger

	colorMu  guard
	color    sketch.Color // guarded by colorMu
	cursorMu guard
	cursor   int // guarded by cursorMu
	bufferMu guard
	stroke   sketch.Stroke // guarded by bufferMu
	docMu    guard
	layers   sketch.Document // guarded by docMu
}

// New returns an empty Model with a fresh session id.  A nil log discards
// all output.
func New(log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &Model{
		session:  id,
		log:      log.With(zap.String("session", id)),
		colorMu:  guard{rank: rankColor, name: "color"},
		cursorMu: guard{rank: rankCursor, name: "cursor"},
		bufferMu: guard{rank: rankBuffer, name: "stroke buffer"},
		docMu:    guard{rank: rankDocument, name: "document"},
	}
}

// Session returns the id assigned to this document when it was created.
func (m *Model) Session() string {
	return m.session
}

// ---- constructors ----

// CreateColor validates and returns a color.  It does not change the
// current color; see SetCurrentColor.
func (m *Model) CreateColor(r, g, b, a int) (sketch.Color, error) {
	return sketch.NewColor(r, g, b, a)
}

// CreateObject returns a new object stamped with a copy of the current
// color.  Later changes to the current color do not affect it.
func (m *Model) CreateObject(id int64, x, y, rotation float64, scale int) (sketch.Object, error) {
	c, err := m.CurrentColor()
	if err != nil {
		return sketch.Object{}, err
	}
	return sketch.NewObject(id, x, y, rotation, scale, c)
}

// ---- cursor ----

// SetCurrentColor makes c the color stamped onto new objects.
func (m *Model) SetCurrentColor(c sketch.Color) error {
	return with(func() error {
		m.color = c
		return nil
	}, &m.colorMu)
}

// CurrentColor returns the color stamped onto new objects.
func (m *Model) CurrentColor() (sketch.Color, error) {
	var c sketch.Color
	err := with(func() error {
		c = m.color
		return nil
	}, &m.colorMu)
	return c, err
}

// CurrentLayer returns the index new strokes are committed to.  It may be
// out of range for the document; AddCurrentStroke reports that.
func (m *Model) CurrentLayer() (int, error) {
	var i int
	err := with(func() error {
		i = m.cursor
		return nil
	}, &m.cursorMu)
	return i, err
}

// SetCurrentLayer points the cursor at layer i without growing the
// document.
func (m *Model) SetCurrentLayer(i int) error {
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLayer, i)
	}
	return with(func() error {
		m.cursor = i
		return nil
	}, &m.cursorMu)
}

// ChangeLayer moves the cursor by delta and grows the document so that the
// new current layer exists.  Moving below layer 0 fails and changes
// nothing.
func (m *Model) ChangeLayer(delta int) (int, error) {
	return m.ChangeLayerWithin(delta, math.MaxInt)
}

// ChangeLayerWithin is ChangeLayer for a document capped at limit layers.
// A move that would leave the cursor outside [0, limit) fails and changes
// nothing.
func (m *Model) ChangeLayerWithin(delta, limit int) (int, error) {
	var i int
	err := with(func() error {
		cur := m.cursor
		// Compare before adding so that cur+delta cannot overflow.
		if delta > 0 && cur > limit-1-delta {
			return fmt.Errorf("%w: %d%+d beyond %d layers", ErrInvalidLayer, cur, delta, limit)
		}
		next := cur + delta
		if next < 0 || next >= limit {
			return fmt.Errorf("%w: %d%+d outside [0, %d)", ErrInvalidLayer, cur, delta, limit)
		}
		m.cursor = next
		if added := m.grow(next + 1); added > 0 {
			m.log.Debug("grew document", zap.Int("added", added), zap.Int("layers", len(m.layers)))
		}
		i = next
		return nil
	}, &m.cursorMu, &m.docMu)
	return i, err
}

// ---- stroke buffer ----

// AddObjectToCurrentStroke appends o to the stroke being drawn.
func (m *Model) AddObjectToCurrentStroke(o sketch.Object) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return with(func() error {
		m.stroke = append(m.stroke, o)
		return nil
	}, &m.bufferMu)
}

// CurrentStroke returns a copy of the stroke being drawn.
func (m *Model) CurrentStroke() (sketch.Stroke, error) {
	var s sketch.Stroke
	err := with(func() error {
		s = m.stroke.Clone()
		return nil
	}, &m.bufferMu)
	return s, err
}

// DiscardCurrentStroke empties the stroke buffer without committing it.
func (m *Model) DiscardCurrentStroke() error {
	return with(func() error {
		if len(m.stroke) > 0 {
			m.log.Debug("discarded stroke", zap.Int("objects", len(m.stroke)))
		}
		m.stroke = nil
		return nil
	}, &m.bufferMu)
}

// AddCurrentStroke commits a copy of the stroke buffer as the last stroke
// of the current layer and empties the buffer.  If the current layer does
// not exist it returns ErrInvalidLayer and leaves all state unchanged.
func (m *Model) AddCurrentStroke() error {
	return with(func() error {
		i := m.cursor
		if i >= len(m.layers) {
			return fmt.Errorf("%w: commit to layer %d of %d", ErrInvalidLayer, i, len(m.layers))
		}
		m.layers[i] = append(m.layers[i], m.stroke.Clone())
		m.log.Debug("committed stroke",
			zap.Int("layer", i),
			zap.Int("stroke", len(m.layers[i])-1),
			zap.Int("objects", len(m.stroke)))
		m.stroke = nil
		return nil
	}, &m.cursorMu, &m.bufferMu, &m.docMu)
}

// ---- document ----

// GenerateLayers appends empty layers until the document has n of them.
// It never removes layers.
func (m *Model) GenerateLayers(n int) error {
	return with(func() error {
		if added := m.grow(n); added > 0 {
			m.log.Debug("grew document", zap.Int("added", added), zap.Int("layers", len(m.layers)))
		}
		return nil
	}, &m.docMu)
}

// grow must be called with docMu held.
func (m *Model) grow(n int) int {
	added := 0
	for len(m.layers) < n {
		m.layers = append(m.layers, nil)
		added++
	}
	return added
}

// Layers returns a deep copy of the document.
func (m *Model) Layers() (sketch.Document, error) {
	var d sketch.Document
	err := with(func() error {
		d = m.layers.Clone()
		return nil
	}, &m.docMu)
	return d, err
}

// Snapshot returns a deep copy of the document together with the current
// layer, both read at the same instant.
func (m *Model) Snapshot() (sketch.Document, int, error) {
	var (
		d   sketch.Document
		cur int
	)
	err := with(func() error {
		d = m.layers.Clone()
		cur = m.cursor
		return nil
	}, &m.cursorMu, &m.docMu)
	return d, cur, err
}

// Layer returns a deep copy of layer i.
func (m *Model) Layer(i int) (sketch.Layer, error) {
	var l sketch.Layer
	err := with(func() error {
		if i < 0 || i >= len(m.layers) {
			return fmt.Errorf("%w: %d of %d", ErrInvalidLayer, i, len(m.layers))
		}
		l = m.layers[i].Clone()
		return nil
	}, &m.docMu)
	return l, err
}

// Len returns the number of layers in the document.
func (m *Model) Len() (int, error) {
	var n int
	err := with(func() error {
		n = len(m.layers)
		return nil
	}, &m.docMu)
	return n, err
}
