package broadcaster

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	exitwal "labledger/infra/wal/exit"
)

// Publisher delivers one encoded notification to the transport.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, contentType string) error
	Close() error
}

// Outbox is the part of the exit WAL the broadcaster drives.
type Outbox interface {
	ScanPending(upTo uint64, fn func(exitwal.ExitRecord) error) error
	MarkSent(id exitwal.ID) error
	MarkAcked(id exitwal.ID) error
	MarkFailed(id exitwal.ID) error
}

type Config struct {
	Interval    time.Duration
	ContentType string
	// Watermark returns the last committed command sequence. Entries past
	// it belong to commands still in flight and are left alone.
	Watermark func() uint64
}

// Broadcaster drains the outbox into the transport in sequence order. A
// failed publish stops the pass so later notifications never overtake it.
type Broadcaster struct {
	outbox    Outbox
	publisher Publisher
	cfg       Config
	log       *logrus.Entry

	published prometheus.Counter
	failed    prometheus.Counter
}

func New(outbox Outbox, publisher Publisher, cfg Config, log *logrus.Entry) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		log:       log.WithField("job", "broadcaster"),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labledger",
			Name:      "notifications_published_total",
			Help:      "Notifications acknowledged by the transport.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labledger",
			Name:      "notifications_failed_total",
			Help:      "Publish attempts rejected by the transport.",
		}),
	}
}

func (b *Broadcaster) Collectors() []prometheus.Collector {
	return []prometheus.Collector{b.published, b.failed}
}

// Run blocks until ctx is done, draining once per tick.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started")
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil {
				b.log.WithError(err).Warn("drain interrupted, will retry")
			}
		}
	}
}

// DrainOnce publishes every pending committed entry and returns how many
// were acknowledged.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	acked := 0
	err := b.outbox.ScanPending(b.cfg.Watermark(), func(rec exitwal.ExitRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.outbox.MarkSent(rec.ID); err != nil {
			return err
		}

		if err := b.publisher.Publish(ctx, rec.Key, rec.Payload, b.cfg.ContentType); err != nil {
			b.failed.Inc()
			if markErr := b.outbox.MarkFailed(rec.ID); markErr != nil {
				b.log.WithError(markErr).WithField("entry", rec.ID).Error("failed to mark entry failed")
			}
			return errors.Wrapf(err, "failed to publish %s (attempt %d)", rec.ID, rec.Retries+1)
		}

		if err := b.outbox.MarkAcked(rec.ID); err != nil {
			return err
		}
		b.published.Inc()
		acked++
		return nil
	})
	return acked, err
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
