// Package indexer projects ledger notifications from Kafka into the
// Postgres read model.
package indexer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"labledger/domain/event"
	"labledger/infra/codec"
	lkafka "labledger/infra/kafka"
)

type Projector interface {
	Project(ctx context.Context, e event.Event) (bool, error)
}

type Indexer struct {
	store Projector
	log   *logrus.Entry

	projected *prometheus.CounterVec
}

func New(store Projector, log *logrus.Entry) *Indexer {
	return &Indexer{
		store: store,
		log:   log.WithField("job", "indexer"),
		projected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labledger",
			Name:      "indexer_messages_total",
			Help:      "Notifications seen by the indexer by outcome.",
		}, []string{"result"}),
	}
}

func (i *Indexer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{i.projected}
}

// Handle decodes msg with the codec named by its content-type header and
// projects it. A message no codec can read is logged and skipped; a
// store failure is returned so the consumer retries it.
func (i *Indexer) Handle(ctx context.Context, msg kafka.Message) error {
	log := i.log.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	c, err := codec.ByName(lkafka.ContentType(msg))
	if err != nil {
		i.projected.WithLabelValues("skipped").Inc()
		log.WithError(err).Warn("skipping message with unknown content type")
		return nil
	}
	e, err := c.Decode(msg.Value)
	if err != nil {
		i.projected.WithLabelValues("skipped").Inc()
		log.WithError(err).Warn("skipping undecodable message")
		return nil
	}

	applied, err := i.store.Project(ctx, e)
	if err != nil {
		i.projected.WithLabelValues("failed").Inc()
		return err
	}
	if !applied {
		i.projected.WithLabelValues("duplicate").Inc()
		log.WithField("event", e.ID).Debug("event already projected")
		return nil
	}
	i.projected.WithLabelValues("projected").Inc()
	log.WithFields(logrus.Fields{"seq": e.Seq, "kind": e.Kind}).Debug("event projected")
	return nil
}

// Run consumes until ctx is done.
func (i *Indexer) Run(ctx context.Context, consumer *lkafka.Consumer) error {
	i.log.Info("started")
	defer i.log.Info("stopped")
	return consumer.Run(ctx, i.Handle)
}
