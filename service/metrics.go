package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"labledger/domain/ledgererr"
)

type metrics struct {
	operations *prometheus.CounterVec
	records    []prometheus.Collector
}

func newMetrics(l *Ledger) *metrics {
	gauge := func(name, help string, fn func() int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "labledger",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	return &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labledger",
			Name:      "operations_total",
			Help:      "Ledger mutations by operation and result kind.",
		}, []string{"operation", "result"}),
		records: []prometheus.Collector{
			gauge("orders", "Orders held by the ledger.", l.OrderCount),
			gauge("service_requests", "Service requests held by the ledger.", l.ServiceRequestCount),
			gauge("lab_requests", "Lab requests held by the ledger.", l.LabRequestCount),
			gauge("committed_seq", "Sequence of the last committed command.", func() int { return int(l.Committed()) }),
			gauge("unreconciled_transfers", "Token moves recovery found without a journaled outcome.", func() int { return len(l.Unreconciled()) }),
		},
	}
}

// Collectors returns the ledger's prometheus collectors for registration.
func (l *Ledger) Collectors() []prometheus.Collector {
	return append([]prometheus.Collector{l.metrics.operations}, l.metrics.records...)
}

// observe counts one finished mutation and hands err back to the caller.
func (l *Ledger) observe(op string, err error) error {
	if err == nil {
		l.metrics.operations.WithLabelValues(op, "ok").Inc()
		return nil
	}

	kind := ledgererr.KindOf(err)
	l.metrics.operations.WithLabelValues(op, kind.String()).Inc()
	entry := l.log.WithError(err).WithFields(logrus.Fields{"op": op, "kind": kind})
	if kind == ledgererr.KindUnknown {
		entry.Error("operation failed")
	} else {
		entry.Debug("operation rejected")
	}
	return err
}
