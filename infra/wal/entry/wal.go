package entry

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"labledger/infra/memory"
)

const (
	// [type:1][seq:8][time:8][len:4]
	headerSize = 21
	crcSize    = 4
)

// maxPooledFrame caps the buffers kept for reuse.
const maxPooledFrame = 1 << 20

var frames = memory.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
	func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledFrame },
)

// encodeFrame writes [type:1][seq:8][time:8][len:4][payload][crc:4].
func encodeFrame(b *bytes.Buffer, r *Record) {
	var hdr [headerSize]byte
	hdr[0] = byte(r.Type)
	binary.BigEndian.PutUint64(hdr[1:9], r.Seq)
	binary.BigEndian.PutUint64(hdr[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(r.Data)))
	b.Write(hdr[:])
	b.Write(r.Data)

	var sum [crcSize]byte
	binary.BigEndian.PutUint32(sum[:], CRC32(b.Bytes()))
	b.Write(sum[:])
}

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// NoSync skips the fsync after every append.
	NoSync bool
	Log    *logrus.Entry
}

// ErrUncertain means a failed append could not be rolled back, so the
// record may or may not be replayed. The WAL refuses writes afterwards.
var ErrUncertain = errors.New("journal write outcome unknown")

// WAL is the command journal. Every accepted mutation is framed here
// before it touches in-memory state, and the journal is the source for
// replay on startup.
type WAL struct {
	mu sync.Mutex

	cfg        Config
	current    *segment
	segIndex   int
	lastRotate time.Time
	failed     error
}

// Open starts a fresh segment after any existing ones, so a torn tail
// left by a crash is never appended to.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create wal dir")
	}

	_, indices, err := segmentFiles(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list segments")
	}
	next := 0
	if len(indices) > 0 {
		next = indices[len(indices)-1] + 1
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}

	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &WAL{
		cfg:        cfg,
		current:    seg,
		segIndex:   next,
		lastRotate: time.Now(),
	}, nil
}

// Append frames r into the current segment. An error means the record is
// not in the journal, unless it wraps ErrUncertain.
func (w *WAL) Append(r *Record) error {
	frame := frames.Get()
	defer frames.Put(frame)
	encodeFrame(frame, r)
	buf := frame.Bytes()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return w.failed
	}

	prev := w.current.offset
	err := errors.Wrapf(w.current.append(buf), "failed to append record %d", r.Seq)
	if err == nil && !w.cfg.NoSync {
		err = errors.Wrapf(w.current.sync(), "failed to sync record %d", r.Seq)
	}
	if err != nil {
		if rerr := w.current.rewind(prev); rerr != nil {
			w.failed = errors.Wrapf(ErrUncertain, "record %d: %v (rewind: %v)", r.Seq, err, rerr)
			return w.failed
		}
		return err
	}

	// The record is durable; a rotation failure is retried on the next append.
	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			w.cfg.Log.WithError(err).WithField("segment", w.current.path).Warn("failed to rotate journal segment")
		}
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.cfg.SegmentSize > 0 && w.current.offset >= w.cfg.SegmentSize {
		return true
	}
	return w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration
}

// rotate switches to the next segment only once it is open.
func (w *WAL) rotate() error {
	seg, err := openSegment(w.cfg.Dir, w.segIndex+1)
	if err != nil {
		return err
	}
	if err := w.current.close(); err != nil {
		w.cfg.Log.WithError(err).WithField("segment", w.current.path).Warn("failed to close journal segment")
	}

	w.segIndex++
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes closed segments whose records are all covered by
// a snapshot taken at seq. The segment being written is kept.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, _, err := segmentFiles(w.cfg.Dir)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list segments")
	}

	removed := 0
	for _, path := range paths {
		if path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, errors.Wrap(err, "failed to remove segment")
			}
			removed++
		}
	}
	return removed, nil
}

func (w *WAL) Dir() string {
	return w.cfg.Dir
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return errors.Wrap(err, "failed to sync segment")
	}
	return w.current.close()
}
