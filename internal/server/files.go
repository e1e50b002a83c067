package server

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"9fans.net/go/plan9"
	"github.com/cptaffe/sketchfs/internal/document"
	"github.com/cptaffe/sketchfs/internal/export"
	"github.com/cptaffe/sketchfs/sketch"
	"go.uber.org/zap"
)

var (
	ErrPerm        = errors.New("permission denied")
	ErrUnknownCtl  = errors.New("unknown ctl command")
	errNotWritable = errors.New("not writable")
)

// open checks mode against f's file type and snapshots the content a
// reader of f will see.
func (s *Server) open(f *fid, mode uint8) error {
	readable := mode == plan9.OREAD || mode == plan9.ORDWR
	writable := mode == plan9.OWRITE || mode == plan9.ORDWR

	switch f.ft {
	case ftRoot, ftLayersDir, ftLayerDir:
		if mode != plan9.OREAD {
			return errors.New("is a directory")
		}
		f.dirents = s.buildReadDir(f.ft, f.layer)
		return nil
	case ftCtl:
		if mode != plan9.OWRITE {
			return ErrPerm
		}
		return nil
	case ftColor, ftLayer, ftStroke:
		if !readable && !writable {
			return ErrPerm
		}
	default:
		if mode != plan9.OREAD {
			return ErrPerm
		}
	}
	if !readable {
		return nil
	}
	text, err := s.content(f)
	if err != nil {
		return err
	}
	f.buf = text
	return nil
}

// content renders the current text of a readable file.
func (s *Server) content(f *fid) ([]byte, error) {
	m := s.model
	switch f.ft {
	case ftColor:
		c, err := m.CurrentColor()
		if err != nil {
			return nil, err
		}
		return []byte(c.String() + "\n"), nil
	case ftLayer:
		i, err := m.CurrentLayer()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.Itoa(i) + "\n"), nil
	case ftStroke:
		st, err := m.CurrentStroke()
		if err != nil {
			return nil, err
		}
		return []byte(sketch.FormatStroke(st)), nil
	case ftDocument:
		d, err := m.Layers()
		if err != nil {
			return nil, err
		}
		return []byte(sketch.FormatDocument(d)), nil
	case ftExport:
		d, cur, err := m.Snapshot()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := export.PDF(&buf, d, cur); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ftSession:
		return []byte(m.Session() + "\n"), nil
	case ftIndex:
		d, err := m.Layers()
		if err != nil {
			return nil, err
		}
		return []byte(sketch.FormatIndex(d)), nil
	case ftStrokes:
		l, err := m.Layer(f.layer)
		if err != nil {
			return nil, err
		}
		return []byte(sketch.FormatLayer(l)), nil
	}
	return nil, nil
}

// write applies data written to f.  color and layer take each write as
// one complete value; ctl and stroke are line oriented and keep an
// unterminated tail until the next write or clunk.
func (s *Server) write(f *fid, data []byte) error {
	switch f.ft {
	case ftCtl:
		return eachLine(&f.wbuf, data, s.execCtl)
	case ftStroke:
		return eachLine(&f.wbuf, data, s.appendObject)
	case ftColor:
		return s.setColor(strings.TrimSpace(string(data)))
	case ftLayer:
		return s.moveLayer(strings.TrimSpace(string(data)))
	}
	return errNotWritable
}

// flush applies whatever write left unterminated in f.wbuf.
func (s *Server) flush(f *fid) error {
	if len(bytes.TrimSpace(f.wbuf)) == 0 {
		return nil
	}
	line := string(f.wbuf)
	f.wbuf = nil
	switch f.ft {
	case ftCtl:
		return s.execCtl(line)
	case ftStroke:
		return s.appendObject(line)
	}
	return nil
}

// eachLine appends data to *buf and calls fn for every complete,
// non-blank line.  The first error discards the rest of *buf.
func eachLine(buf *[]byte, data []byte, fn func(string) error) error {
	*buf = append(*buf, data...)
	for {
		nl := bytes.IndexByte(*buf, '\n')
		if nl < 0 {
			return nil
		}
		line := strings.TrimSpace(string((*buf)[:nl]))
		*buf = (*buf)[nl+1:]
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			*buf = nil
			return err
		}
	}
}

// execCtl runs one ctl command.
//
//	color r g b a
//	object id x y rotation scale
//	commit
//	discard
//	layers n
//	layer n | +n | -n
func (s *Server) execCtl(line string) error {
	m := s.model
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := f[0], f[1:]
	log := s.log().With(zap.String("cmd", cmd))

	var err error
	switch cmd {
	case "color":
		err = s.setColor(strings.Join(args, " "))
	case "object":
		var (
			id        int64
			x, y, rot float64
			scale     int
			o         sketch.Object
		)
		if id, x, y, rot, scale, err = sketch.ParsePose(args); err != nil {
			break
		}
		if o, err = m.CreateObject(id, x, y, rot, scale); err != nil {
			break
		}
		err = m.AddObjectToCurrentStroke(o)
	case "commit":
		if err = noArgs(cmd, args); err == nil {
			err = m.AddCurrentStroke()
		}
	case "discard":
		if err = noArgs(cmd, args); err == nil {
			err = m.DiscardCurrentStroke()
		}
	case "layers":
		if len(args) != 1 {
			err = fmt.Errorf("%w: layers wants 1 argument, got %d", sketch.ErrSyntax, len(args))
			break
		}
		var n int
		if n, err = strconv.Atoi(args[0]); err != nil {
			err = fmt.Errorf("%w: bad layer count %q", sketch.ErrSyntax, args[0])
			break
		}
		if n > s.maxLayers {
			err = fmt.Errorf("%w: %d layers exceeds the limit of %d", document.ErrInvalidLayer, n, s.maxLayers)
			break
		}
		err = m.GenerateLayers(n)
	case "layer":
		if len(args) != 1 {
			err = fmt.Errorf("%w: layer wants 1 argument, got %d", sketch.ErrSyntax, len(args))
			break
		}
		err = s.moveLayer(args[0])
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownCtl, cmd)
	}
	if err != nil {
		log.Debug("ctl failed", zap.Error(err))
		return err
	}
	log.Debug("ctl")
	return nil
}

func noArgs(cmd string, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: %s takes no arguments", sketch.ErrSyntax, cmd)
	}
	return nil
}

func (s *Server) setColor(text string) error {
	c, err := sketch.ParseColor(text)
	if err != nil {
		return err
	}
	return s.model.SetCurrentColor(c)
}

// moveLayer handles "n" (absolute, no growth) and "+n"/"-n" (relative,
// grows the document).  Neither may leave the cursor at or past
// s.maxLayers.
func (s *Server) moveLayer(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: bad layer %q", sketch.ErrSyntax, arg)
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		_, err = s.model.ChangeLayerWithin(n, s.maxLayers)
		return err
	}
	if n >= s.maxLayers {
		return fmt.Errorf("%w: layer %d exceeds the limit of %d", document.ErrInvalidLayer, n, s.maxLayers)
	}
	return s.model.SetCurrentLayer(n)
}

// appendObject adds one full object line, color included, to the stroke
// buffer.
func (s *Server) appendObject(line string) error {
	o, err := sketch.ParseObject(line)
	if err != nil {
		return err
	}
	return s.model.AddObjectToCurrentStroke(o)
}
