package cli

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"labledger/api/grpcserver"
	"labledger/api/httpserver"
	"labledger/config"
	"labledger/infra/codec"
	lkafka "labledger/infra/kafka"
	"labledger/infra/sequence"
	"labledger/infra/token"
	entrywal "labledger/infra/wal/entry"
	exitwal "labledger/infra/wal/exit"
	"labledger/jobs/broadcaster"
	"labledger/service"
	"labledger/snapshot"
)

func runLedger(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	roles, err := cfg.AccessRoles()
	if err != nil {
		return err
	}
	custody, err := cfg.Custody()
	if err != nil {
		return err
	}
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	cdc, err := codec.ByName(cfg.Kafka.Codec)
	if err != nil {
		return err
	}

	// ---------------- Token service ----------------

	tokens, err := token.Open(cfg.Storage.TokenDir, nil, custody)
	if err != nil {
		return err
	}
	defer tokens.Close()
	if seeded, err := tokens.Seed(genesis); err != nil {
		return err
	} else if seeded {
		log.WithField("accounts", len(genesis)).Info("genesis balances credited")
	}

	// ---------------- Entry WAL ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.Storage.WALDir,
		SegmentSize:     cfg.Storage.SegmentSize,
		SegmentDuration: cfg.Storage.SegmentDuration,
		NoSync:          cfg.Storage.NoSync,
		Log:             log.WithField("component", "journal"),
	})
	if err != nil {
		return errors.Wrap(err, "entry WAL init failed")
	}
	defer journal.Close()

	// ---------------- Exit WAL ----------------

	outbox, err := exitwal.Open(cfg.Storage.OutboxDir, nil)
	if err != nil {
		return errors.Wrap(err, "exit WAL init failed")
	}
	defer outbox.Close()

	// ---------------- Ledger ----------------

	ledger := service.NewLedger(service.Deps{
		Roles:   roles,
		Tokens:  tokens,
		Journal: journal,
		Outbox:  outbox,
		Codec:   cdc,
		Seq:     sequence.New(0),
		Log:     log,
	})
	if err := ledger.Recover(cfg.Storage.SnapshotDir, cfg.Storage.WALDir, outbox); err != nil {
		return errors.Wrap(err, "recovery failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(ledger.Collectors()...)

	// ---------------- Background Jobs ----------------

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := newPublisher(cfg)
		if err != nil {
			return err
		}
		bc := broadcaster.New(outbox, pub, broadcaster.Config{
			Interval:    cfg.Kafka.PollInterval,
			ContentType: cdc.Name(),
			Watermark:   ledger.Committed,
		}, log)
		defer bc.Close()
		reg.MustRegister(bc.Collectors()...)
		spawn(func() { bc.Run(ctx) })
	} else {
		log.Warn("no kafka brokers configured, notifications stay in the outbox")
	}

	job := &service.SnapshotJob{
		Ledger:   ledger,
		Writer:   &snapshot.Writer{Dir: cfg.Storage.SnapshotDir},
		Journal:  journal,
		Outbox:   outbox,
		Interval: cfg.Storage.SnapshotInterval,
		Log:      log.WithField("job", "snapshot"),
	}
	spawn(func() { job.Run(ctx) })

	ops := httpserver.New(cfg.Ops.Addr, httpserver.NewRouter(reg, ledger), log)
	spawn(func() {
		if err := ops.Run(ctx); err != nil {
			log.WithError(err).Error("ops server failed")
		}
	})

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrap(err, "listen failed")
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(ledger))

	spawn(func() {
		<-ctx.Done()
		stopGracefully(grpcSrv, 10*time.Second)
	})

	log.WithFields(logrus.Fields{
		"addr":          cfg.GRPC.Addr,
		"committed_seq": ledger.Committed(),
	}).Info("ledger running")

	err = grpcSrv.Serve(lis)
	cancel()
	wg.Wait()
	if err != nil {
		return errors.Wrap(err, "gRPC server exited")
	}

	// Final snapshot so the next start replays nothing.
	if err := job.Once(); err != nil {
		log.WithError(err).Warn("final snapshot failed")
	}
	return nil
}

func newPublisher(cfg *config.Config) (broadcaster.Publisher, error) {
	switch cfg.Kafka.Driver {
	case config.DriverSarama, "":
		return broadcaster.NewSaramaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	case config.DriverKafkaGo:
		return lkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	default:
		return nil, errors.Errorf("unknown kafka driver %q", cfg.Kafka.Driver)
	}
}

func stopGracefully(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
