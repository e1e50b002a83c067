package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"9fans.net/go/plan9"
	"github.com/cptaffe/sketchfs/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// slowDispatch is the latency above which a request is logged as slow.
const slowDispatch = 100 * time.Millisecond

// ---- per-connection state ----

type fid struct {
	ft    int
	layer int
	open  bool
	mode  uint8
	buf   []byte // file content snapshot (set at Topen)
	wbuf  []byte // unterminated tail of line-oriented writes

	// Directories are read a whole entry at a time.  next is the first
	// entry not yet returned and end is the byte offset it starts at.
	dirents [][]byte
	next    int
	end     uint64
}

type conn struct {
	srv   *Server
	log   *zap.Logger
	fids  map[uint32]*fid
	msize uint32
}

func (s *Server) handleConn(c io.ReadWriteCloser) {
	log := logger.L(s.ctx)
	cn := &conn{
		srv:   s,
		log:   log,
		fids:  make(map[uint32]*fid),
		msize: 8192 + plan9.IOHDRSZ,
	}
	for {
		fc, err := plan9.ReadFcall(c)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosed(err) {
				log.Debug("read fcall", zap.Error(err))
			}
			return
		}
		name := fcallTypeName(fc.Type)
		_, span := s.tracer.Start(s.ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.Int64("9p.fid", int64(fc.Fid))))
		start := time.Now()
		resp := cn.dispatch(fc)
		if resp.Type == plan9.Rerror {
			span.SetStatus(codes.Error, resp.Ename)
		}
		span.End()
		if elapsed := time.Since(start); elapsed > slowDispatch {
			log.Warn("slow dispatch",
				zap.String("type", name),
				zap.Duration("elapsed", elapsed))
		}
		if err := plan9.WriteFcall(c, resp); err != nil {
			return
		}
	}
}

func rerr(tag uint16, msg string) *plan9.Fcall {
	return &plan9.Fcall{Type: plan9.Rerror, Tag: tag, Ename: msg}
}

func (cn *conn) dispatch(fc *plan9.Fcall) *plan9.Fcall {
	switch fc.Type {
	case plan9.Tversion:
		return cn.doVersion(fc)
	case plan9.Tauth:
		return rerr(fc.Tag, "no authentication required")
	case plan9.Tattach:
		return cn.doAttach(fc)
	case plan9.Tflush:
		return &plan9.Fcall{Type: plan9.Rflush, Tag: fc.Tag}
	case plan9.Twalk:
		return cn.doWalk(fc)
	case plan9.Topen:
		return cn.doOpen(fc)
	case plan9.Tcreate:
		return rerr(fc.Tag, "create not supported")
	case plan9.Tread:
		return cn.doRead(fc)
	case plan9.Twrite:
		return cn.doWrite(fc)
	case plan9.Tclunk:
		return cn.doClunk(fc)
	case plan9.Tremove:
		return rerr(fc.Tag, "remove not supported")
	case plan9.Tstat:
		return cn.doStat(fc)
	case plan9.Twstat:
		// Accept wstat so that shells can truncate on redirect.
		return &plan9.Fcall{Type: plan9.Rwstat, Tag: fc.Tag}
	default:
		return rerr(fc.Tag, "unknown message type")
	}
}

func (cn *conn) doVersion(fc *plan9.Fcall) *plan9.Fcall {
	msize := fc.Msize
	if msize > cn.msize {
		msize = cn.msize
	}
	cn.msize = msize
	cn.fids = make(map[uint32]*fid)
	ver := "9P2000"
	if !strings.HasPrefix(fc.Version, "9P2000") {
		ver = "unknown"
	}
	return &plan9.Fcall{Type: plan9.Rversion, Tag: fc.Tag, Msize: msize, Version: ver}
}

func (cn *conn) doAttach(fc *plan9.Fcall) *plan9.Fcall {
	cn.fids[fc.Fid] = &fid{ft: ftRoot}
	cn.log.Debug("attach", zap.String("user", fc.Uname))
	return &plan9.Fcall{
		Type: plan9.Rattach,
		Tag:  fc.Tag,
		Qid:  makeQID(ftRoot, 0),
	}
}

func (cn *conn) doWalk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "fid is open")
	}

	curFt, curLayer := f.ft, f.layer
	wqids := make([]plan9.Qid, 0, len(fc.Wname))

	for i, name := range fc.Wname {
		nft, nlayer, err := cn.srv.walkStep(curFt, curLayer, name)
		if err != nil {
			if i == 0 {
				return rerr(fc.Tag, err.Error())
			}
			break
		}
		wqids = append(wqids, makeQID(nft, nlayer))
		curFt, curLayer = nft, nlayer
	}

	if len(wqids) == len(fc.Wname) {
		cn.fids[fc.Newfid] = &fid{ft: curFt, layer: curLayer}
	}
	return &plan9.Fcall{Type: plan9.Rwalk, Tag: fc.Tag, Wqid: wqids}
}

func (cn *conn) doOpen(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "already open")
	}
	if err := cn.srv.open(f, fc.Mode&3); err != nil {
		return rerr(fc.Tag, err.Error())
	}
	f.open = true
	f.mode = fc.Mode
	return &plan9.Fcall{
		Type:   plan9.Ropen,
		Tag:    fc.Tag,
		Qid:    makeQID(f.ft, f.layer),
		Iounit: cn.msize - plan9.IOHDRSZ,
	}
}

func (cn *conn) doRead(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.open {
		return rerr(fc.Tag, "not open")
	}
	if isDir(f.ft) {
		data, err := f.readDir(fc.Offset, fc.Count)
		if err != nil {
			return rerr(fc.Tag, err.Error())
		}
		return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag, Data: data}
	}
	off := fc.Offset
	if off >= uint64(len(f.buf)) {
		return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag}
	}
	end := min(off+uint64(fc.Count), uint64(len(f.buf)))
	return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag, Data: f.buf[off:end]}
}

// readDir returns the whole entries that fit in count, starting where the
// previous read stopped.  Offset 0 rewinds; any other offset must be the
// end of the previous read.
func (f *fid) readDir(off uint64, count uint32) ([]byte, error) {
	if off == 0 {
		f.next, f.end = 0, 0
	}
	if off != f.end {
		return nil, fmt.Errorf("bad directory offset %d, want %d", off, f.end)
	}
	var data []byte
	for f.next < len(f.dirents) {
		e := f.dirents[f.next]
		if len(data)+len(e) > int(count) {
			break
		}
		data = append(data, e...)
		f.next++
	}
	if len(data) == 0 && f.next < len(f.dirents) {
		return nil, errors.New("directory entry larger than read count")
	}
	f.end += uint64(len(data))
	return data, nil
}

func (cn *conn) doWrite(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.open {
		return rerr(fc.Tag, "not open")
	}
	if m := f.mode & 3; m != plan9.OWRITE && m != plan9.ORDWR {
		return rerr(fc.Tag, "not open for writing")
	}
	if err := cn.srv.write(f, fc.Data); err != nil {
		cn.log.Debug("write rejected",
			zap.String("file", fileName(f.ft, f.layer)),
			zap.Error(err))
		return rerr(fc.Tag, err.Error())
	}
	return &plan9.Fcall{Type: plan9.Rwrite, Tag: fc.Tag, Count: uint32(len(fc.Data))}
}

func (cn *conn) doClunk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f != nil && f.open {
		// Clunk cannot fail, so an unterminated last line is applied
		// here and any error is only logged.
		if err := cn.srv.flush(f); err != nil {
			cn.log.Warn("apply final line at clunk",
				zap.String("file", fileName(f.ft, f.layer)),
				zap.Error(err))
		}
	}
	delete(cn.fids, fc.Fid)
	return &plan9.Fcall{Type: plan9.Rclunk, Tag: fc.Tag}
}

func (cn *conn) doStat(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	d := cn.srv.makeDir(f.ft, f.layer)
	stat, err := d.Bytes()
	if err != nil {
		return rerr(fc.Tag, err.Error())
	}
	return &plan9.Fcall{Type: plan9.Rstat, Tag: fc.Tag, Stat: stat}
}

func fcallTypeName(t uint8) string {
	switch t {
	case plan9.Tversion:
		return "Tversion"
	case plan9.Tauth:
		return "Tauth"
	case plan9.Tattach:
		return "Tattach"
	case plan9.Tflush:
		return "Tflush"
	case plan9.Twalk:
		return "Twalk"
	case plan9.Topen:
		return "Topen"
	case plan9.Tcreate:
		return "Tcreate"
	case plan9.Tread:
		return "Tread"
	case plan9.Twrite:
		return "Twrite"
	case plan9.Tclunk:
		return "Tclunk"
	case plan9.Tremove:
		return "Tremove"
	case plan9.Tstat:
		return "Tstat"
	case plan9.Twstat:
		return "Twstat"
	default:
		return fmt.Sprintf("T%d", t)
	}
}
