package service

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/event"
	"labledger/domain/labrequest"
	"labledger/domain/ledgererr"
	"labledger/domain/servicerequest"
	entrywal "labledger/infra/wal/entry"
	exitwal "labledger/infra/wal/exit"
)

type orderChange struct {
	Order   escrow.Order `json:"order"`
	Created bool         `json:"created"`
}

// mutation is everything one command changes in memory. It is the journal
// payload, so replay re-applies results and never re-plans.
type mutation struct {
	Caller         chain.Address              `json:"caller"`
	Orders         []orderChange              `json:"orders,omitempty"`
	ServiceRequest *servicerequest.Request    `json:"service_request,omitempty"`
	Validation     *servicerequest.Validation `json:"validation,omitempty"`
	LabRequest     *labrequest.Request        `json:"lab_request,omitempty"`
	Payment        *escrow.Payment            `json:"payment,omitempty"`
}

type moveKind uint8

const (
	debit moveKind = iota
	credit
)

func (k moveKind) String() string {
	if k == debit {
		return "debit"
	}
	return "credit"
}

type move struct {
	kind    moveKind
	account chain.Address
	amount  *big.Int
}

// Transfer is one token move named by an intent record.
type Transfer struct {
	Seq     uint64        `json:"seq"`
	Kind    string        `json:"kind"`
	Account chain.Address `json:"account"`
	Amount  *big.Int      `json:"amount"`
}

func transfersOf(seq uint64, moves []move) []Transfer {
	out := make([]Transfer, 0, len(moves))
	for _, mv := range moves {
		out = append(out, Transfer{Seq: seq, Kind: mv.kind.String(), Account: mv.account, Amount: mv.amount})
	}
	return out
}

func debitOf(account chain.Address, amount *big.Int) move {
	return move{kind: debit, account: account, amount: amount}
}

func creditsOf(cs []escrow.Credit) []move {
	out := make([]move, 0, len(cs))
	for _, c := range cs {
		out = append(out, move{kind: credit, account: c.Account, amount: c.Amount})
	}
	return out
}

// commit runs a planned command to completion or not at all: intent record,
// token moves, outbox entries, journal record, in-memory apply. A failing
// step undoes the ones before it. The caller holds the write lock.
//
// When the journal cannot say whether a record landed, nothing is undone
// and the ledger stops taking commands; the next Recover settles it.
func (l *Ledger) commit(ctx context.Context, typ entrywal.RecordType, m mutation, moves []move, events func(seq uint64) []event.Event) error {
	if l.halted != nil {
		return errors.Wrap(l.halted, "ledger halted")
	}

	seq := l.seq.Peek()
	log := l.log.WithFields(logrus.Fields{"seq": seq, "op": typ.String()})

	if len(moves) > 0 {
		intent, err := json.Marshal(transfersOf(seq, moves))
		if err != nil {
			return errors.Wrap(err, "failed to encode intent")
		}
		if err := l.journal.Append(entrywal.NewRecord(entrywal.RecordIntent, seq, intent)); err != nil {
			l.haltOn(log, err)
			return errors.Wrap(err, "failed to journal intent")
		}
	}

	done, err := l.move(ctx, moves)
	if err != nil {
		l.abandon(log, seq, moves, done)
		return err
	}

	msgs, err := l.encode(events(seq))
	if err != nil {
		l.abandon(log, seq, moves, done)
		return err
	}
	if err := l.outbox.Put(seq, msgs); err != nil {
		l.abandon(log, seq, moves, done)
		return errors.Wrap(err, "failed to stage notifications")
	}

	payload, err := json.Marshal(m)
	if err != nil {
		l.discard(log, seq)
		l.abandon(log, seq, moves, done)
		return errors.Wrap(err, "failed to encode journal record")
	}
	if err := l.journal.Append(entrywal.NewRecord(typ, seq, payload)); err != nil {
		if l.haltOn(log, err) {
			return errors.Wrap(err, "failed to journal command")
		}
		l.discard(log, seq)
		l.abandon(log, seq, moves, done)
		return errors.Wrap(err, "failed to journal command")
	}

	l.apply(m)
	l.seq.Commit(seq)
	log.Debug("committed")
	return nil
}

// haltOn stops the ledger when err leaves the journal in an unknown state.
func (l *Ledger) haltOn(log *logrus.Entry, err error) bool {
	if !errors.Is(err, entrywal.ErrUncertain) {
		return false
	}
	l.halted = err
	log.WithError(err).Error("journal state unknown, refusing further commands until restart")
	return true
}

// abandon reverses done and, when that worked, closes the intent for seq.
func (l *Ledger) abandon(log *logrus.Entry, seq uint64, moves, done []move) {
	if !l.undo(log, done) || len(moves) == 0 {
		return
	}
	if err := l.journal.Append(entrywal.NewRecord(entrywal.RecordAbort, seq, nil)); err != nil {
		log.WithError(err).Warn("failed to journal abort, recovery will report the intent")
	}
}

func (l *Ledger) move(ctx context.Context, moves []move) ([]move, error) {
	done := make([]move, 0, len(moves))
	for _, mv := range moves {
		var err error
		if mv.kind == debit {
			err = l.tokens.Debit(ctx, mv.account, mv.amount)
		} else {
			err = l.tokens.Credit(ctx, mv.account, mv.amount)
		}
		if err != nil {
			if ledgererr.KindOf(err) == ledgererr.KindUnknown {
				err = errors.Wrapf(err, "failed to move funds for %s", mv.account)
			}
			return done, err
		}
		done = append(done, mv)
	}
	return done, nil
}

// undo reverses completed moves newest first. A failure here leaves the
// token service out of step with the ledger and is logged loudly.
func (l *Ledger) undo(log *logrus.Entry, done []move) bool {
	ctx := context.Background()
	ok := true
	for i := len(done) - 1; i >= 0; i-- {
		mv := done[i]
		var err error
		if mv.kind == debit {
			err = l.tokens.Credit(ctx, mv.account, mv.amount)
		} else {
			err = l.tokens.Debit(ctx, mv.account, mv.amount)
		}
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"account": mv.account,
				"amount":  mv.amount.String(),
			}).Error("failed to reverse token move")
			ok = false
		}
	}
	return ok
}

func (l *Ledger) discard(log *logrus.Entry, seq uint64) {
	if err := l.outbox.Discard(seq); err != nil {
		log.WithError(err).Error("failed to discard staged notifications")
	}
}

func (l *Ledger) encode(events []event.Event) ([]exitwal.Message, error) {
	msgs := make([]exitwal.Message, 0, len(events))
	for _, e := range events {
		b, err := l.codec.Encode(e)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, exitwal.Message{Key: []byte(e.Key()), Payload: b})
	}
	return msgs, nil
}

// apply cannot fail: every change in m was validated by a plan.
func (l *Ledger) apply(m mutation) {
	for _, oc := range m.Orders {
		l.orders.Apply(escrow.Transition{Order: oc.Order, Created: oc.Created})
	}
	if m.ServiceRequest != nil {
		l.requests.Apply(*m.ServiceRequest)
	}
	if m.Validation != nil {
		l.requests.ApplyValidation(*m.Validation)
	}
	if m.LabRequest != nil {
		l.labs.Apply(*m.LabRequest)
	}
}
