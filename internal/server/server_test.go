package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"9fans.net/go/plan9"
	"9fans.net/go/plan9/client"
	"github.com/cptaffe/sketchfs/internal/document"
	"github.com/cptaffe/sketchfs/logger"
	"github.com/cptaffe/sketchfs/sketch"
	"go.uber.org/zap/zaptest"
)

// newTestFS serves a fresh one-layer document over an in-memory pipe and
// returns an attached client.
func newTestFS(t *testing.T, opts ...Option) (*client.Fsys, *document.Model) {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := document.New(log)
	if err := m.GenerateLayers(1); err != nil {
		t.Fatalf("GenerateLayers: %v", err)
	}
	s := New(logger.NewContext(context.Background(), log), m, opts...)

	cli, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.ServeConn(srv)
		close(done)
	}()
	c, err := client.NewConn(cli)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		<-done
	})
	fs, err := c.Attach(nil, "test", "")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return fs, m
}

func readFile(t *testing.T, fs *client.Fsys, name string) string {
	t.Helper()
	fid, err := fs.Open(name, plan9.OREAD)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer fid.Close()
	data, err := io.ReadAll(fid)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func writeFile(fs *client.Fsys, name, text string) error {
	fid, err := fs.Open(name, plan9.OWRITE)
	if err != nil {
		return err
	}
	defer fid.Close()
	_, err = fid.Write([]byte(text))
	return err
}

func TestSession(t *testing.T) {
	fs, m := newTestFS(t)
	if got := readFile(t, fs, "session"); got != m.Session()+"\n" {
		t.Fatalf("session = %q, want %q", got, m.Session()+"\n")
	}
}

func TestRootListing(t *testing.T) {
	fs, _ := newTestFS(t)
	fid, err := fs.Open(".", plan9.OREAD)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer fid.Close()
	dirs, err := fid.Dirreadall()
	if err != nil {
		t.Fatalf("Dirreadall: %v", err)
	}
	var names []string
	for _, d := range dirs {
		names = append(names, d.Name)
	}
	want := "ctl color layer stroke document export.pdf session layers"
	if got := strings.Join(names, " "); got != want {
		t.Fatalf("root listing = %q, want %q", got, want)
	}
}

func TestCtlDrawAndCommit(t *testing.T) {
	fs, m := newTestFS(t)
	err := writeFile(fs, "ctl", "color 255 0 0 255\n"+
		"object 1 10 10 0 1\n"+
		"object 1 11 10 0 1\n"+
		"commit\n")
	if err != nil {
		t.Fatalf("write ctl: %v", err)
	}
	d, err := sketch.ParseDocument(readFile(t, fs, "document"))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	red := sketch.Color{R: 255, A: 255}
	want := sketch.Document{{{
		{ID: 1, X: 10, Y: 10, Scale: 1, Color: red},
		{ID: 1, X: 11, Y: 10, Scale: 1, Color: red},
	}}}
	if d.Objects() != 2 || d[0][0][0] != want[0][0][0] || d[0][0][1] != want[0][0][1] {
		t.Fatalf("document = %+v, want %+v", d, want)
	}
	if s, _ := m.CurrentStroke(); len(s) != 0 {
		t.Fatalf("stroke buffer not emptied by commit: %+v", s)
	}
}

func TestCtlErrors(t *testing.T) {
	tests := []struct {
		name string
		cmds string
		want string
	}{
		{name: "bad alpha", cmds: "color 255 0 0 999\n", want: sketch.ErrInvalidColor.Error()},
		{name: "zero scale", cmds: "object 1 0 0 0 0\n", want: sketch.ErrInvalidScale.Error()},
		{name: "short object", cmds: "object 1 0 0\n", want: sketch.ErrSyntax.Error()},
		{name: "unknown", cmds: "erase\n", want: ErrUnknownCtl.Error()},
		{name: "commit args", cmds: "commit now\n", want: sketch.ErrSyntax.Error()},
		{name: "commit past end", cmds: "layer 3\ncommit\n", want: document.ErrInvalidLayer.Error()},
		{name: "negative layer", cmds: "layer -1\n", want: document.ErrInvalidLayer.Error()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs, m := newTestFS(t)
			err := writeFile(fs, "ctl", tc.cmds)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("write ctl error = %v, want one containing %q", err, tc.want)
			}
			if d, _ := m.Layers(); d.Objects() != 0 || len(d) != 1 || len(d[0]) != 0 {
				t.Fatalf("failed command changed the document: %+v", d)
			}
		})
	}
}

func TestCtlStopsAtFirstError(t *testing.T) {
	fs, m := newTestFS(t)
	if err := writeFile(fs, "ctl", "object 1 0 0 0 1\nbogus\ncommit\n"); err == nil {
		t.Fatal("write ctl succeeded, want error")
	}
	if s, _ := m.CurrentStroke(); len(s) != 1 {
		t.Fatalf("stroke = %+v, want the one object before the error", s)
	}
	if d, _ := m.Layers(); len(d[0]) != 0 {
		t.Fatalf("commit after a failing line ran: %+v", d)
	}
}

func TestUnterminatedCtlRunsAtClunk(t *testing.T) {
	fs, m := newTestFS(t)
	if err := writeFile(fs, "ctl", "object 507 1 2 45 1\ncommit"); err != nil {
		t.Fatalf("write ctl: %v", err)
	}
	d, _ := m.Layers()
	if len(d[0]) != 1 || len(d[0][0]) != 1 {
		t.Fatalf("document = %+v, want one committed stroke", d)
	}
}

func TestColorFile(t *testing.T) {
	fs, m := newTestFS(t)
	if err := writeFile(fs, "color", "0 0 255 128"); err != nil {
		t.Fatalf("write color: %v", err)
	}
	if got := readFile(t, fs, "color"); got != "0 0 255 128\n" {
		t.Fatalf("color = %q", got)
	}
	if c, _ := m.CurrentColor(); c != (sketch.Color{B: 255, A: 128}) {
		t.Fatalf("CurrentColor = %+v", c)
	}
	if err := writeFile(fs, "color", "0 0 256 0"); err == nil {
		t.Fatal("out of range color accepted")
	}
}

func TestLayerFile(t *testing.T) {
	fs, m := newTestFS(t)
	if err := writeFile(fs, "layer", "+2\n"); err != nil {
		t.Fatalf("write layer: %v", err)
	}
	if got := readFile(t, fs, "layer"); got != "2\n" {
		t.Fatalf("layer = %q, want 2", got)
	}
	if n, _ := m.Len(); n != 3 {
		t.Fatalf("Len = %d after +2, want 3", n)
	}
	if err := writeFile(fs, "layer", "7"); err != nil {
		t.Fatalf("write layer: %v", err)
	}
	if n, _ := m.Len(); n != 3 {
		t.Fatalf("absolute layer grew the document to %d", n)
	}
	if err := writeFile(fs, "layer", "-8"); err == nil {
		t.Fatal("moving below layer 0 succeeded")
	}
	if err := writeFile(fs, "layer", "up"); err == nil {
		t.Fatal("non-numeric layer accepted")
	}
	if i, _ := m.CurrentLayer(); i != 7 {
		t.Fatalf("CurrentLayer = %d, want 7", i)
	}
}

func TestStrokeFile(t *testing.T) {
	fs, m := newTestFS(t)
	lines := "1 0 0 0 1 0 0 0 255\n2 5 5 90 2 10 20 30 40\n"
	if err := writeFile(fs, "stroke", lines); err != nil {
		t.Fatalf("write stroke: %v", err)
	}
	if got := readFile(t, fs, "stroke"); got != lines {
		t.Fatalf("stroke = %q, want %q", got, lines)
	}
	if err := writeFile(fs, "stroke", "1 0 0 0 1 0 0 0\n"); err == nil {
		t.Fatal("short object line accepted")
	}
	if s, _ := m.CurrentStroke(); len(s) != 2 {
		t.Fatalf("stroke has %d objects, want 2", len(s))
	}
}

func TestLayersTree(t *testing.T) {
	fs, m := newTestFS(t)
	if err := writeFile(fs, "ctl", "layers 2\nobject 1 0 0 0 1\ncommit\ncommit\n"); err != nil {
		t.Fatalf("write ctl: %v", err)
	}
	if got := readFile(t, fs, "layers/index"); got != "0 2\n1 0\n" {
		t.Fatalf("index = %q", got)
	}
	l, err := sketch.ParseLayer(readFile(t, fs, "layers/0/strokes"))
	if err != nil {
		t.Fatalf("ParseLayer: %v", err)
	}
	want, _ := m.Layer(0)
	if len(l) != len(want) || len(l[0]) != 1 || len(l[1]) != 0 {
		t.Fatalf("layer 0 = %+v, want %+v", l, want)
	}
	if got := readFile(t, fs, "layers/1/strokes"); got != "" {
		t.Fatalf("layer 1 = %q, want empty", got)
	}
	if _, err := fs.Open("layers/2/strokes", plan9.OREAD); err == nil {
		t.Fatal("opened a layer past the end")
	}
	if _, err := fs.Open("layers/01/strokes", plan9.OREAD); err == nil {
		t.Fatal("opened a layer by a non-canonical name")
	}
}

func TestListManyLayers(t *testing.T) {
	fs, m := newTestFS(t)
	if err := m.GenerateLayers(400); err != nil {
		t.Fatal(err)
	}
	fid, err := fs.Open("layers", plan9.OREAD)
	if err != nil {
		t.Fatalf("open layers: %v", err)
	}
	defer fid.Close()
	dirs, err := fid.Dirreadall()
	if err != nil {
		t.Fatalf("Dirreadall: %v", err)
	}
	if len(dirs) != 401 {
		t.Fatalf("listed %d entries, want 401", len(dirs))
	}
	if dirs[0].Name != "index" {
		t.Fatalf("first entry = %q, want index", dirs[0].Name)
	}
	for i, d := range dirs[1:] {
		if d.Name != strconv.Itoa(i) || d.Mode&plan9.DMDIR == 0 {
			t.Fatalf("entry %d = %q mode %v, want directory %d", i+1, d.Name, d.Mode, i)
		}
	}
}

func TestReadDirWholeEntries(t *testing.T) {
	f := &fid{ft: ftLayersDir, dirents: [][]byte{
		[]byte("aaaa"), []byte("bbbb"), []byte("cccccc"),
	}}
	steps := []struct {
		off     uint64
		count   uint32
		want    string
		wantErr bool
	}{
		{0, 9, "aaaabbbb", false},
		{8, 5, "", true}, // next entry does not fit
		{8, 6, "cccccc", false},
		{14, 100, "", false},
		{0, 4, "aaaa", false},
	}
	for _, st := range steps {
		got, err := f.readDir(st.off, st.count)
		if st.wantErr {
			if err == nil {
				t.Fatalf("readDir(%d, %d) = %q, want error", st.off, st.count, got)
			}
			continue
		}
		if err != nil || string(got) != st.want {
			t.Fatalf("readDir(%d, %d) = %q, %v; want %q", st.off, st.count, got, err, st.want)
		}
	}
	if _, err := f.readDir(2, 100); err == nil {
		t.Fatal("readDir accepted an offset inside an entry")
	}
}

func TestLayerLimit(t *testing.T) {
	fs, m := newTestFS(t, WithMaxLayers(16))
	bad := []struct {
		file, text string
	}{
		{"ctl", "layers 2000000000\n"},
		{"ctl", "layers 17\n"},
		{"ctl", "layer 16\n"},
		{"ctl", "layer +2000000000\n"},
		{"ctl", "layer +9223372036854775807\n"},
		{"layer", "1000000000"},
		{"layer", "+16"},
	}
	for _, tc := range bad {
		err := writeFile(fs, tc.file, tc.text)
		if err == nil || !strings.Contains(err.Error(), document.ErrInvalidLayer.Error()) {
			t.Fatalf("write %s %q error = %v, want %q", tc.file, tc.text, err, document.ErrInvalidLayer)
		}
	}
	if n, _ := m.Len(); n != 1 {
		t.Fatalf("Len = %d after rejected growth, want 1", n)
	}
	if i, _ := m.CurrentLayer(); i != 0 {
		t.Fatalf("CurrentLayer = %d after rejected moves, want 0", i)
	}

	if err := writeFile(fs, "ctl", "layers 16\nlayer +15\n"); err != nil {
		t.Fatalf("growth up to the limit: %v", err)
	}
	if n, _ := m.Len(); n != 16 {
		t.Fatalf("Len = %d, want 16", n)
	}
	if err := writeFile(fs, "ctl", "layer +1\n"); err == nil {
		t.Fatal("moved past the last allowed layer")
	}
	if i, _ := m.CurrentLayer(); i != 15 {
		t.Fatalf("CurrentLayer = %d, want 15", i)
	}
}

func TestPermissions(t *testing.T) {
	fs, _ := newTestFS(t)
	tests := []struct {
		name string
		mode uint8
	}{
		{"ctl", plan9.OREAD},
		{"document", plan9.OWRITE},
		{"session", plan9.ORDWR},
		{"layers", plan9.OWRITE},
		{"export.pdf", plan9.OWRITE},
	}
	for _, tc := range tests {
		if fid, err := fs.Open(tc.name, tc.mode); err == nil {
			fid.Close()
			t.Errorf("open %s mode %d succeeded, want error", tc.name, tc.mode)
		}
	}
}

func TestExportFile(t *testing.T) {
	fs, _ := newTestFS(t)
	if err := writeFile(fs, "ctl", "color 0 0 0 255\nobject 507 10 10 30 1\nobject 507 20 15 30 1\ncommit\n"); err != nil {
		t.Fatalf("write ctl: %v", err)
	}
	if got := readFile(t, fs, "export.pdf"); !strings.HasPrefix(got, "%PDF-") {
		t.Fatalf("export.pdf does not start with a PDF header: %q", got[:min(len(got), 16)])
	}
}

func TestServeTCP(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(logger.NewContext(context.Background(), log))
	defer cancel()
	s := New(ctx, document.New(log))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	c, err := client.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	fs, err := c.Attach(nil, "test", "")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := writeFile(fs, "ctl", "layers 4\n"); err != nil {
		t.Fatalf("write ctl: %v", err)
	}
	if n, _ := s.Model().Len(); n != 4 {
		t.Fatalf("Len = %d, want 4", n)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Close()
}

func TestEachLine(t *testing.T) {
	var buf []byte
	var got []string
	collect := func(s string) error {
		got = append(got, s)
		return nil
	}
	for _, chunk := range []string{"a b", "c\n\n# note\n", "d\ne"} {
		if err := eachLine(&buf, []byte(chunk), collect); err != nil {
			t.Fatalf("eachLine: %v", err)
		}
	}
	if strings.Join(got, "|") != "a bc|d" {
		t.Fatalf("lines = %q", got)
	}
	if !bytes.Equal(buf, []byte("e")) {
		t.Fatalf("tail = %q, want %q", buf, "e")
	}
}
