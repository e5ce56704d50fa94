package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Pending reports whether the broadcaster still owes this entry a publish.
// SENT counts: a crash between send and ack must resend.
func (s ExitState) Pending() bool {
	return s == StateNew || s == StateSent || s == StateFailed
}

// -------------------- Record --------------------

// ID addresses one notification: the command sequence that produced it
// and its position among that command's notifications.
type ID struct {
	Seq   uint64
	Index uint16
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d", id.Seq, id.Index)
}

// Message is what a command hands to the outbox: a partition key and the
// encoded notification.
type Message struct {
	Key     []byte
	Payload []byte
}

type ExitRecord struct {
	ID          ID
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Message
}

// binary encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
const recordHeader = 1 + 4 + 8 + 2

func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, recordHeader+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	n := copy(buf[recordHeader:], r.Key)
	copy(buf[recordHeader+n:], r.Payload)
	return buf
}

func decodeRecord(id ID, b []byte) (ExitRecord, error) {
	if len(b) < recordHeader {
		return ExitRecord{}, errors.Errorf("invalid exit record length %d", len(b))
	}
	keyLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < recordHeader+keyLen {
		return ExitRecord{}, errors.Errorf("exit record %s: key overruns record", id)
	}
	body := make([]byte, len(b)-recordHeader)
	copy(body, b[recordHeader:])
	return ExitRecord{
		ID:          id,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Message:     Message{Key: body[:keyLen:keyLen], Payload: body[keyLen:]},
	}, nil
}

// -------------------- WAL --------------------

// ExitWAL is the durable outbox. The ledger writes notifications here in
// the same step that commits a command, and the broadcaster drains them.
type ExitWAL struct {
	db *pebble.DB
}

// Open opens the outbox at dir. opts may be nil; tests pass an in-memory FS.
func Open(dir string, opts *pebble.Options) (*ExitWAL, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open exit wal")
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// Put stores the notifications of one command as NEW, replacing anything
// left under the same sequence by an earlier, uncommitted attempt.
func (w *ExitWAL) Put(seq uint64, msgs []Message) error {
	b := w.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(seqPrefix(seq), seqPrefix(seq+1), nil); err != nil {
		return errors.Wrap(err, "failed to clear sequence")
	}
	for i, m := range msgs {
		rec := ExitRecord{State: StateNew, Message: m}
		if err := b.Set(keyFor(ID{Seq: seq, Index: uint16(i)}), encodeRecord(rec), nil); err != nil {
			return errors.Wrap(err, "failed to stage entry")
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "failed to commit entries")
}

// Discard drops every entry of seq. Used when the command fails after its
// notifications were staged.
func (w *ExitWAL) Discard(seq uint64) error {
	return errors.Wrap(
		w.db.DeleteRange(seqPrefix(seq), seqPrefix(seq+1), pebble.Sync),
		"failed to discard entries",
	)
}

// DiscardAfter drops entries for sequences past seq; they belong to
// commands that never reached the journal.
func (w *ExitWAL) DiscardAfter(seq uint64) error {
	return errors.Wrap(
		w.db.DeleteRange(seqPrefix(seq+1), []byte(keyUpper), pebble.Sync),
		"failed to discard uncommitted entries",
	)
}

func (w *ExitWAL) MarkSent(id ID) error {
	return w.update(id, func(r *ExitRecord) { r.State = StateSent })
}

func (w *ExitWAL) MarkAcked(id ID) error {
	return w.update(id, func(r *ExitRecord) { r.State = StateAcked })
}

func (w *ExitWAL) MarkFailed(id ID) error {
	return w.update(id, func(r *ExitRecord) {
		r.State = StateFailed
		r.Retries++
	})
}

func (w *ExitWAL) update(id ID, fn func(*ExitRecord)) error {
	rec, err := w.Get(id)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastAttempt = time.Now().UnixNano()
	return errors.Wrapf(w.db.Set(keyFor(id), encodeRecord(rec), pebble.Sync), "failed to update %s", id)
}

func (w *ExitWAL) Get(id ID) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(id))
	if err != nil {
		return ExitRecord{}, errors.Wrapf(err, "failed to get %s", id)
	}
	defer closer.Close()

	return decodeRecord(id, val)
}

// -------------------- Scan --------------------

// ScanPending visits pending entries with seq <= upTo in key order.
// Returning an error from fn stops the scan and is passed through.
func (w *ExitWAL) ScanPending(upTo uint64, fn func(ExitRecord) error) error {
	return w.scan(seqPrefix(upTo+1), func(rec ExitRecord) error {
		if !rec.State.Pending() {
			return nil
		}
		return fn(rec)
	})
}

// Counts tallies entries by state.
func (w *ExitWAL) Counts() (map[ExitState]int, error) {
	out := make(map[ExitState]int)
	err := w.scan([]byte(keyUpper), func(rec ExitRecord) error {
		out[rec.State]++
		return nil
	})
	return out, err
}

// TruncateAckedUpTo deletes ACKED entries with seq <= seq.
func (w *ExitWAL) TruncateAckedUpTo(seq uint64) (int, error) {
	b := w.db.NewBatch()
	defer b.Close()

	n := 0
	err := w.scan(seqPrefix(seq+1), func(rec ExitRecord) error {
		if rec.State != StateAcked {
			return nil
		}
		n++
		return b.Delete(keyFor(rec.ID), nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, errors.Wrap(b.Commit(pebble.Sync), "failed to truncate acked entries")
}

func (w *ExitWAL) scan(upper []byte, fn func(ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: upper,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open iterator")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(id, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "evt/"
	keyUpper  = "evt/~"
)

func seqPrefix(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", keyPrefix, seq))
}

func keyFor(id ID) []byte {
	return []byte(fmt.Sprintf("%s%020d/%05d", keyPrefix, id.Seq, id.Index))
}

func parseKey(b []byte) (ID, error) {
	parts := strings.Split(strings.TrimPrefix(string(b), keyPrefix), "/")
	if len(parts) != 2 {
		return ID{}, errors.Errorf("malformed key %q", b)
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(err, "failed to parse key %q", b)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ID{}, errors.Wrapf(err, "failed to parse key %q", b)
	}
	return ID{Seq: seq, Index: uint16(idx)}, nil
}
