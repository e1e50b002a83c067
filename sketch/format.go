package sketch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned when wire text cannot be parsed.
var ErrSyntax = errors.New("syntax error")

// String formats c as "r g b a".
func (c Color) String() string {
	return fmt.Sprintf("%d %d %d %d", c.R, c.G, c.B, c.A)
}

// ParseColor parses "r g b a".
func ParseColor(line string) (Color, error) {
	f := strings.Fields(line)
	if len(f) != 4 {
		return Color{}, fmt.Errorf("%w: color wants 4 fields, got %d", ErrSyntax, len(f))
	}
	v, err := atois(f)
	if err != nil {
		return Color{}, err
	}
	return NewColor(v[0], v[1], v[2], v[3])
}

// String formats o as "id x y rotation scale r g b a".
func (o Object) String() string {
	return fmt.Sprintf("%d %s %s %s %d %s",
		o.ID, ftoa(o.X), ftoa(o.Y), ftoa(o.Rotation), o.Scale, o.Color)
}

// ParseObject parses a line produced by Object.String.
func ParseObject(line string) (Object, error) {
	f := strings.Fields(line)
	if len(f) != 9 {
		return Object{}, fmt.Errorf("%w: object wants 9 fields, got %d", ErrSyntax, len(f))
	}
	id, x, y, rot, scale, err := ParsePose(f[:5])
	if err != nil {
		return Object{}, err
	}
	c, err := ParseColor(strings.Join(f[5:], " "))
	if err != nil {
		return Object{}, err
	}
	return NewObject(id, x, y, rot, scale, c)
}

// ParsePose parses the five pose fields "id x y rotation scale".  It checks
// syntax only; range checks are left to NewObject.
func ParsePose(f []string) (id int64, x, y, rot float64, scale int, err error) {
	if len(f) != 5 {
		err = fmt.Errorf("%w: pose wants 5 fields, got %d", ErrSyntax, len(f))
		return
	}
	if id, err = strconv.ParseInt(f[0], 10, 64); err != nil {
		err = fmt.Errorf("%w: bad id: %v", ErrSyntax, err)
		return
	}
	var fl [3]float64
	for i, s := range f[1:4] {
		if fl[i], err = strconv.ParseFloat(s, 64); err != nil {
			err = fmt.Errorf("%w: bad coordinate: %v", ErrSyntax, err)
			return
		}
	}
	x, y, rot = fl[0], fl[1], fl[2]
	if scale, err = strconv.Atoi(f[4]); err != nil {
		err = fmt.Errorf("%w: bad scale: %v", ErrSyntax, err)
	}
	return
}

// FormatStroke writes one object line per object.
func FormatStroke(s Stroke) string {
	var sb strings.Builder
	writeStroke(&sb, s)
	return sb.String()
}

// FormatLayer writes each stroke of l under a "stroke" header line.
func FormatLayer(l Layer) string {
	var sb strings.Builder
	for _, s := range l {
		sb.WriteString("stroke\n")
		writeStroke(&sb, s)
	}
	return sb.String()
}

// FormatDocument serialises d.  Each layer opens with "layer N"; each stroke
// with "stroke"; objects follow one per line.
func FormatDocument(d Document) string {
	var sb strings.Builder
	for i, l := range d {
		fmt.Fprintf(&sb, "layer %d\n", i)
		sb.WriteString(FormatLayer(l))
	}
	return sb.String()
}

// FormatIndex lists each layer's index and stroke count, one per line.
func FormatIndex(d Document) string {
	var sb strings.Builder
	for i, l := range d {
		fmt.Fprintf(&sb, "%d %d\n", i, len(l))
	}
	return sb.String()
}

// ParseStroke parses the object lines of a stroke, ignoring blank lines.
func ParseStroke(text string) (Stroke, error) {
	var s Stroke
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		o, err := ParseObject(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		s = append(s, o)
	}
	return s, nil
}

// ParseLayer parses text produced by FormatLayer.
func ParseLayer(text string) (Layer, error) {
	var l Layer
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "stroke" {
			l = append(l, nil)
			continue
		}
		if len(l) == 0 {
			return nil, fmt.Errorf("line %d: %w: object outside stroke", n+1, ErrSyntax)
		}
		o, err := ParseObject(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		l[len(l)-1] = append(l[len(l)-1], o)
	}
	return l, nil
}

// ParseDocument parses text produced by FormatDocument.
func ParseDocument(text string) (Document, error) {
	var d Document
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch f := strings.Fields(line); {
		case f[0] == "layer":
			if len(f) != 2 || f[1] != strconv.Itoa(len(d)) {
				return nil, fmt.Errorf("line %d: %w: want \"layer %d\"", n+1, ErrSyntax, len(d))
			}
			d = append(d, nil)
		case f[0] == "stroke":
			if len(d) == 0 {
				return nil, fmt.Errorf("line %d: %w: stroke before layer", n+1, ErrSyntax)
			}
			d[len(d)-1] = append(d[len(d)-1], nil)
		default:
			l := len(d) - 1
			if l < 0 || len(d[l]) == 0 {
				return nil, fmt.Errorf("line %d: %w: object outside stroke", n+1, ErrSyntax)
			}
			o, err := ParseObject(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			s := len(d[l]) - 1
			d[l][s] = append(d[l][s], o)
		}
	}
	return d, nil
}

func writeStroke(sb *strings.Builder, s Stroke) {
	for _, o := range s {
		sb.WriteString(o.String())
		sb.WriteByte('\n')
	}
}

func atois(f []string) ([]int, error) {
	out := make([]int, len(f))
	for i, s := range f {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		out[i] = n
	}
	return out, nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
