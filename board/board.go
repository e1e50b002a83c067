// Package board provides a client-side library for drawing into a sketchfs
// document.
//
// sketchfs is a 9P file server that holds one document of layers of
// strokes.  A Board wraps a 9P connection to it and mirrors the server's
// commands as methods.
//
// Typical usage for a drawing front end:
//
//	b, err := board.Open()
//	if err != nil { ... }
//	defer b.Close()
//	b.SetColor(sketch.Color{R: 255, A: 255})
//	pen := b.Pen(1)
//	pen.MoveTo(10, 10)
//	pen.MoveTo(20, 12)
//	pen.Lift()                  // commits the stroke
//
// Errors reported by the server are matched back onto the sentinel errors
// of the sketch and document packages, so errors.Is works across the
// connection.
package board

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"9fans.net/go/plan9"
	"9fans.net/go/plan9/client"
	"github.com/cptaffe/sketchfs/internal/document"
	"github.com/cptaffe/sketchfs/internal/server"
	"github.com/cptaffe/sketchfs/sketch"
)

// Board is a client handle for one sketchfs document.  Its methods may be
// called from several goroutines; each call is one or two 9P requests and
// calls are not atomic with respect to each other.
type Board struct {
	fs   *client.Fsys
	conn *client.Conn // nil when built by Open or New
}

// Open connects to the server posted in the namespace directory.
func Open() (*Board, error) {
	fs, err := client.MountService(sketch.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", sketch.ServiceName, err)
	}
	return New(fs), nil
}

// Dial connects to a server at a network address such as
// ("tcp", "host:5640") or ("unix", "/tmp/ns.me.:0/sketchfs").
func Dial(network, addr string) (*Board, error) {
	c, err := client.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s!%s: %w", network, addr, err)
	}
	return attach(c)
}

// NewConn speaks 9P over rwc, which must already be connected to a server.
func NewConn(rwc io.ReadWriteCloser) (*Board, error) {
	c, err := client.NewConn(rwc)
	if err != nil {
		rwc.Close()
		return nil, fmt.Errorf("9p version: %w", err)
	}
	return attach(c)
}

func attach(c *client.Conn) (*Board, error) {
	fs, err := c.Attach(nil, user(), "")
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("attach: %w", err)
	}
	return &Board{fs: fs, conn: c}, nil
}

// New wraps an already attached file system.
func New(fs *client.Fsys) *Board {
	return &Board{fs: fs}
}

// Close hangs up the connection if the Board owns it.
func (b *Board) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func user() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "none"
}

// ---- file helpers ----

func (b *Board) read(name string) (string, error) {
	fid, err := b.fs.Open(name, plan9.OREAD)
	if err != nil {
		return "", remoteError(err)
	}
	defer fid.Close()
	data, err := io.ReadAll(fid)
	if err != nil {
		return "", remoteError(err)
	}
	return string(data), nil
}

func (b *Board) write(name, text string) error {
	fid, err := b.fs.Open(name, plan9.OWRITE)
	if err != nil {
		return remoteError(err)
	}
	defer fid.Close()
	if _, err := fid.Write([]byte(text)); err != nil {
		return remoteError(err)
	}
	return nil
}

// Ctl sends one or more newline-separated commands to the ctl file.
func (b *Board) Ctl(cmds ...string) error {
	var sb strings.Builder
	for _, c := range cmds {
		sb.WriteString(c)
		sb.WriteByte('\n')
	}
	return b.write("ctl", sb.String())
}

// ---- commands ----

// SetColor sets the color stamped onto new objects.
func (b *Board) SetColor(c sketch.Color) error {
	return b.Ctl("color " + c.String())
}

// Color returns the color stamped onto new objects.
func (b *Board) Color() (sketch.Color, error) {
	text, err := b.read("color")
	if err != nil {
		return sketch.Color{}, err
	}
	return sketch.ParseColor(text)
}

// AddObject creates an object in the current color and appends it to the
// current stroke.
func (b *Board) AddObject(id int64, x, y, rotation float64, scale int) error {
	o := sketch.Object{ID: id, X: x, Y: y, Rotation: rotation, Scale: scale}
	f := strings.Fields(o.String())
	return b.Ctl("object " + strings.Join(f[:5], " "))
}

// Append adds fully specified objects, colors included, to the current
// stroke.
func (b *Board) Append(objs ...sketch.Object) error {
	if len(objs) == 0 {
		return nil
	}
	return b.write("stroke", sketch.FormatStroke(objs))
}

// Stroke returns the stroke being drawn.
func (b *Board) Stroke() (sketch.Stroke, error) {
	text, err := b.read("stroke")
	if err != nil {
		return nil, err
	}
	return sketch.ParseStroke(text)
}

// Commit appends the current stroke to the current layer and starts a new
// one.
func (b *Board) Commit() error {
	return b.Ctl("commit")
}

// Discard drops the current stroke.
func (b *Board) Discard() error {
	return b.Ctl("discard")
}

// GenerateLayers grows the document to at least n layers.
func (b *Board) GenerateLayers(n int) error {
	return b.Ctl("layers " + strconv.Itoa(n))
}

// SetLayer points the cursor at layer i.
func (b *Board) SetLayer(i int) error {
	return b.Ctl("layer " + strconv.Itoa(i))
}

// ChangeLayer moves the cursor by delta, growing the document as needed,
// and returns the new current layer.
func (b *Board) ChangeLayer(delta int) (int, error) {
	if err := b.Ctl(fmt.Sprintf("layer %+d", delta)); err != nil {
		return 0, err
	}
	return b.CurrentLayer()
}

// CurrentLayer returns the index new strokes are committed to.
func (b *Board) CurrentLayer() (int, error) {
	text, err := b.read("layer")
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: layer %q", sketch.ErrSyntax, text)
	}
	return i, nil
}

// Layers returns a snapshot of the whole document.
func (b *Board) Layers() (sketch.Document, error) {
	text, err := b.read("document")
	if err != nil {
		return nil, err
	}
	return sketch.ParseDocument(text)
}

// Layer returns a snapshot of layer i.
func (b *Board) Layer(i int) (sketch.Layer, error) {
	text, err := b.read(fmt.Sprintf("layers/%d/strokes", i))
	if err != nil {
		return nil, err
	}
	return sketch.ParseLayer(text)
}

// Session returns the id of the document being drawn.
func (b *Board) Session() (string, error) {
	text, err := b.read("session")
	return strings.TrimSpace(text), err
}

// ExportPDF copies the server's PDF rendering of the document to w.
func (b *Board) ExportPDF(w io.Writer) error {
	fid, err := b.fs.Open("export.pdf", plan9.OREAD)
	if err != nil {
		return remoteError(err)
	}
	defer fid.Close()
	if _, err := io.Copy(w, fid); err != nil {
		return remoteError(err)
	}
	return nil
}

// ---- errors ----

// RemoteError is an error reported by the server.  It unwraps to the
// matching sentinel error, if any.
type RemoteError struct {
	Msg string
	Err error
}

func (e *RemoteError) Error() string { return e.Msg }
func (e *RemoteError) Unwrap() error { return e.Err }

var sentinels = []error{
	sketch.ErrInvalidColor,
	sketch.ErrInvalidScale,
	sketch.ErrInvalidObject,
	sketch.ErrSyntax,
	document.ErrInvalidLayer,
	document.ErrPoisoned,
	server.ErrUnknownCtl,
	server.ErrNoFile,
	server.ErrPerm,
}

// remoteError maps err onto the sentinel whose text appears earliest in
// the message.  Wrapping puts the outermost sentinel first.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	best, at := error(nil), len(msg)
	for _, s := range sentinels {
		if i := strings.Index(msg, s.Error()); i >= 0 && i < at {
			best, at = s, i
		}
	}
	if best == nil {
		return err
	}
	return &RemoteError{Msg: msg, Err: best}
}
