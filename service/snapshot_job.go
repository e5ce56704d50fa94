package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"labledger/snapshot"
)

type JournalTruncator interface {
	TruncateBefore(seq uint64) (int, error)
}

type OutboxTruncator interface {
	TruncateAckedUpTo(seq uint64) (int, error)
}

const DefaultSnapshotInterval = 5 * time.Minute

// SnapshotJob periodically writes a snapshot and then drops journal
// segments and acknowledged outbox entries it covers.
type SnapshotJob struct {
	Ledger   *Ledger
	Writer   *snapshot.Writer
	Journal  JournalTruncator
	Outbox   OutboxTruncator
	Interval time.Duration
	Log      *logrus.Entry
}

func (j *SnapshotJob) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := j.Once(); err != nil {
				j.Log.WithError(err).Warn("snapshot failed")
			}
		}
	}
}

func (j *SnapshotJob) Once() error {
	s := j.Ledger.Capture()
	if err := j.Writer.Write(s); err != nil {
		return err
	}
	log := j.Log.WithField("seq", s.Seq)

	// Truncate ENTRY WAL after snapshot
	segments, err := j.Journal.TruncateBefore(s.Seq)
	if err != nil {
		log.WithError(err).Warn("failed to truncate journal")
	}

	// GC EXIT WAL (acked only)
	entries, err := j.Outbox.TruncateAckedUpTo(s.Seq)
	if err != nil {
		log.WithError(err).Warn("failed to truncate outbox")
	}

	log.WithFields(logrus.Fields{
		"segments": segments,
		"entries":  entries,
	}).Info("snapshot written")
	return nil
}
