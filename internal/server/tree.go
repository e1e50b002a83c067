package server

import (
	"errors"
	"strconv"
	"time"

	"9fans.net/go/plan9"
)

// Sentinel walk errors.
var (
	ErrNoFile = errors.New("no such file")
	ErrNotDir = errors.New("not a directory")
)

// File-type constants encoded into Qid.Path.
const (
	ftRoot      = 0
	ftCtl       = 1
	ftColor     = 2
	ftLayer     = 3  // current layer cursor
	ftStroke    = 4  // current stroke buffer
	ftDocument  = 5  // full snapshot
	ftExport    = 6  // export.pdf
	ftSession   = 7
	ftLayersDir = 8
	ftIndex     = 9
	ftLayerDir  = 10 // layers/<n>
	ftStrokes   = 11 // layers/<n>/strokes
)

// rootFiles lists the children of the root directory in listing order.
var rootFiles = []int{ftCtl, ftColor, ftLayer, ftStroke, ftDocument, ftExport, ftSession, ftLayersDir}

func isDir(ft int) bool {
	return ft == ftRoot || ft == ftLayersDir || ft == ftLayerDir
}

// makePath encodes (ft, layer) into a Qid.Path: [ft:16][layer:48].
func makePath(ft, layer int) uint64 {
	return uint64(ft)<<48 | uint64(layer)&(1<<48-1)
}

func makeQID(ft, layer int) plan9.Qid {
	qt := uint8(plan9.QTFILE)
	if isDir(ft) {
		qt = plan9.QTDIR
	}
	return plan9.Qid{Type: qt, Path: makePath(ft, layer)}
}

func fileName(ft, layer int) string {
	switch ft {
	case ftRoot:
		return "/"
	case ftCtl:
		return "ctl"
	case ftColor:
		return "color"
	case ftLayer:
		return "layer"
	case ftStroke:
		return "stroke"
	case ftDocument:
		return "document"
	case ftExport:
		return "export.pdf"
	case ftSession:
		return "session"
	case ftLayersDir:
		return "layers"
	case ftIndex:
		return "index"
	case ftLayerDir:
		return strconv.Itoa(layer)
	case ftStrokes:
		return "strokes"
	}
	return ""
}

func fileMode(ft int) plan9.Perm {
	switch ft {
	case ftRoot, ftLayersDir, ftLayerDir:
		return plan9.DMDIR | 0555
	case ftCtl:
		return 0222
	case ftColor, ftLayer, ftStroke:
		return 0666
	}
	return 0444
}

func (s *Server) makeDir(ft, layer int) plan9.Dir {
	now := uint32(time.Now().Unix())
	return plan9.Dir{
		Qid:   makeQID(ft, layer),
		Mode:  fileMode(ft),
		Atime: now, Mtime: now,
		Name: fileName(ft, layer),
		Uid:  "none", Gid: "none", Muid: "none",
	}
}

// walkStep advances one path component from (ft, layer).
func (s *Server) walkStep(ft, layer int, name string) (int, int, error) {
	if name == "." && isDir(ft) {
		return ft, layer, nil
	}
	if name == ".." {
		switch ft {
		case ftRoot, ftLayersDir:
			return ftRoot, 0, nil
		case ftLayerDir:
			return ftLayersDir, 0, nil
		default:
			return 0, 0, ErrNotDir
		}
	}
	switch ft {
	case ftRoot:
		for _, f := range rootFiles {
			if fileName(f, 0) == name {
				return f, 0, nil
			}
		}
		return 0, 0, ErrNoFile
	case ftLayersDir:
		if name == "index" {
			return ftIndex, 0, nil
		}
		n, err := strconv.Atoi(name)
		if err != nil || n < 0 || strconv.Itoa(n) != name {
			return 0, 0, ErrNoFile
		}
		if count, err := s.model.Len(); err != nil || n >= count {
			return 0, 0, ErrNoFile
		}
		return ftLayerDir, n, nil
	case ftLayerDir:
		if name == "strokes" {
			return ftStrokes, layer, nil
		}
		return 0, 0, ErrNoFile
	default:
		return 0, 0, ErrNotDir
	}
}

// buildReadDir returns one marshalled plan9.Dir per directory entry.
func (s *Server) buildReadDir(ft, layer int) [][]byte {
	var dirs []plan9.Dir
	switch ft {
	case ftRoot:
		for _, f := range rootFiles {
			dirs = append(dirs, s.makeDir(f, 0))
		}
	case ftLayersDir:
		dirs = append(dirs, s.makeDir(ftIndex, 0))
		n, _ := s.model.Len()
		for i := 0; i < n; i++ {
			dirs = append(dirs, s.makeDir(ftLayerDir, i))
		}
	case ftLayerDir:
		dirs = append(dirs, s.makeDir(ftStrokes, layer))
	}
	ents := make([][]byte, 0, len(dirs))
	for _, d := range dirs {
		if b, err := d.Bytes(); err == nil {
			ents = append(ents, b)
		}
	}
	return ents
}
