package service

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
	entrywal "labledger/infra/wal/entry"
	"labledger/snapshot"
)

// OutboxRecovery drops notifications staged by commands that never reached
// the journal.
type OutboxRecovery interface {
	DiscardAfter(seq uint64) error
}

/*
Recover rebuilds in-memory state from the latest snapshot plus every
journal record written after it.

IMPORTANT:
- This MUST run before accepting traffic
- The exit WAL is NOT replayed; entries it already holds are published
  by the broadcaster as usual
*/
func (l *Ledger) Recover(snapshotDir, walDir string, outbox OutboxRecovery) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	var from uint64

	s, err := snapshot.Load(snapshotDir)
	if err != nil {
		return err
	}
	if s != nil {
		l.restore(s)
		from = s.Seq
	}

	replayed := 0
	intents := make(map[uint64][]Transfer)
	var stranded []Transfer
	lastSeq, err := entrywal.Replay(walDir, func(rec *entrywal.Record) error {
		switch rec.Type {
		case entrywal.RecordIntent:
			// A reused seq means the earlier attempt never finished.
			stranded = append(stranded, intents[rec.Seq]...)
			var ts []Transfer
			if err := json.Unmarshal(rec.Data, &ts); err != nil {
				return errors.Wrapf(err, "failed to decode intent %d", rec.Seq)
			}
			intents[rec.Seq] = ts
			return nil
		case entrywal.RecordAbort:
			delete(intents, rec.Seq)
			return nil
		}
		delete(intents, rec.Seq)

		if rec.Seq <= from {
			return nil
		}
		var m mutation
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			return errors.Wrapf(err, "failed to decode %s record %d", rec.Type, rec.Seq)
		}
		l.apply(m)
		replayed++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to replay journal")
	}
	if lastSeq < from {
		lastSeq = from
	}

	seqs := make([]uint64, 0, len(intents))
	for seq := range intents {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		stranded = append(stranded, intents[seq]...)
	}
	l.unreconciled = stranded
	for _, t := range stranded {
		l.log.WithFields(logrus.Fields{
			"seq":     t.Seq,
			"kind":    t.Kind,
			"account": t.Account,
			"amount":  t.Amount.String(),
		}).Warn("token move has no journaled outcome, reconcile custody by hand")
	}

	// Resume sequencing AFTER replay
	l.seq.Reset(lastSeq)

	if outbox != nil {
		if err := outbox.DiscardAfter(lastSeq); err != nil {
			return errors.Wrap(err, "failed to drop uncommitted notifications")
		}
	}

	l.log.WithFields(logrus.Fields{
		"snapshot_seq": from,
		"last_seq":     lastSeq,
		"replayed":     replayed,
		"unreconciled": len(stranded),
		"took":         time.Since(start),
	}).Info("recovery completed")
	return nil
}

// Unreconciled lists token moves the last Recover found journaled as
// intended but never committed or aborted. Funds named here may sit in
// custody, or have left it, without a ledger record.
func (l *Ledger) Unreconciled() []Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]Transfer(nil), l.unreconciled...)
}

func (l *Ledger) restore(s *snapshot.State) {
	l.orders = escrow.Restore(s.Orders)
	l.requests = servicerequest.Restore(s.ServiceRequests, s.Validations)
	l.labs = labrequest.Restore(s.LabRequests)
}

// Capture copies the current state for a snapshot.
func (l *Ledger) Capture() *snapshot.State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &snapshot.State{
		Seq:             l.seq.Current(),
		Created:         l.now().UTC(),
		Orders:          l.orders.All(),
		ServiceRequests: l.requests.All(),
		Validations:     l.requests.Validations(),
		LabRequests:     l.labs.All(),
	}
}
