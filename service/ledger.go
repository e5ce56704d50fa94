package service

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"labledger/domain/access"
	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
	"labledger/infra/codec"
	"labledger/infra/sequence"
	entrywal "labledger/infra/wal/entry"
	exitwal "labledger/infra/wal/exit"
)

// Tokens is the value-transfer service. Debit fails with
// InsufficientFunds when the account is short; Credit pays out of custody.
type Tokens interface {
	Debit(ctx context.Context, account chain.Address, amount *big.Int) error
	Credit(ctx context.Context, account chain.Address, amount *big.Int) error
}

type Journal interface {
	Append(r *entrywal.Record) error
}

type Outbox interface {
	Put(seq uint64, msgs []exitwal.Message) error
	Discard(seq uint64) error
}

type Deps struct {
	Roles   access.Roles
	Tokens  Tokens
	Journal Journal
	Outbox  Outbox
	Codec   codec.Codec
	Seq     *sequence.Sequencer
	Log     *logrus.Entry
	// Now defaults to time.Now.
	Now func() time.Time
}

/*
Ledger is the ONLY write entry point into the system.

Mutations hold the write lock for their whole run; queries hold the read
lock and return copies, so every read sees a state between two commands.
*/
type Ledger struct {
	mu sync.RWMutex

	orders   *escrow.Ledger
	requests *servicerequest.Registry
	labs     *labrequest.Registry

	roles   access.Roles
	tokens  Tokens
	journal Journal
	outbox  Outbox
	codec   codec.Codec
	seq     *sequence.Sequencer
	log     *logrus.Entry
	now     func() time.Time

	// halted is set once the journal can no longer vouch for its tail.
	halted error
	// unreconciled holds intents recovery found without an outcome.
	unreconciled []Transfer

	metrics *metrics
}

func NewLedger(d Deps) *Ledger {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Seq == nil {
		d.Seq = sequence.New(0)
	}
	l := &Ledger{
		orders:   escrow.NewLedger(),
		requests: servicerequest.NewRegistry(),
		labs:     labrequest.NewRegistry(),
		roles:    d.Roles,
		tokens:   d.Tokens,
		journal:  d.Journal,
		outbox:   d.Outbox,
		codec:    d.Codec,
		seq:      d.Seq,
		log:      d.Log.WithField("component", "ledger"),
		now:      d.Now,
	}
	l.metrics = newMetrics(l)
	return l
}

// Committed is the sequence of the last command whose effects are visible.
// The broadcaster never publishes past it.
func (l *Ledger) Committed() uint64 {
	return l.seq.Current()
}
