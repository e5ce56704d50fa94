package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"labledger/api/httpserver"
	"labledger/config"
	lkafka "labledger/infra/kafka"
	"labledger/infra/postgres"
	"labledger/jobs/indexer"
)

func runIndexer(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	if cfg.Indexer.DSN == "" {
		return errors.New("indexer.dsn is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}

	db, err := postgres.Open(cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	store := postgres.NewStore(db)
	last, err := store.LastSeq(ctx)
	if err != nil {
		return err
	}
	log.WithField("last_seq", last).Info("read model ready")

	ix := indexer.New(store, log)
	reg := prometheus.NewRegistry()
	reg.MustRegister(ix.Collectors()...)

	ops := httpserver.New(cfg.Ops.Addr, httpserver.NewRouter(reg, lastSeen{store: store}), log)
	go func() {
		if err := ops.Run(ctx); err != nil {
			log.WithError(err).Error("ops server failed")
		}
	}()

	consumer := lkafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Indexer.GroupID, log)
	defer consumer.Close()
	return ix.Run(ctx, consumer)
}

// lastSeen reports the newest projected sequence on /healthz.
type lastSeen struct {
	store *postgres.Store
}

func (l lastSeen) Committed() uint64 {
	seq, err := l.store.LastSeq(context.Background())
	if err != nil {
		return 0
	}
	return seq
}
