package sequence

import "sync/atomic"

// Sequencer hands out the global command sequence. A number is only
// consumed once the command that reserved it commits, so the journal has
// no gaps.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose last committed value is start.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Peek returns the number the next command will use.
func (s *Sequencer) Peek() uint64 {
	return s.last.Load() + 1
}

// Commit records seq as used. Callers serialize Peek/Commit pairs.
func (s *Sequencer) Commit(seq uint64) {
	s.last.Store(seq)
}

// Current returns the last committed sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset is used after replay.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
