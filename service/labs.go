package service

import (
	"context"
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/event"
	"labledger/domain/labrequest"
	entrywal "labledger/infra/wal/entry"
)

func (l *Ledger) CreateLabRequest(ctx context.Context, caller chain.Address, substrate, country, city, category string, stake *big.Int) (labrequest.Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.labs.PlanCreate(caller, substrate, country, city, category, stake)
	if err != nil {
		return labrequest.Request{}, l.observe("create_lab_request", err)
	}
	err = l.commit(ctx, entrywal.RecordCreateLabRequest,
		mutation{Caller: caller, LabRequest: &r},
		[]move{debitOf(caller, stake)},
		func(seq uint64) []event.Event {
			return []event.Event{event.ForLabRequest(seq, event.KindLabRequestCreated, r, l.now())}
		},
	)
	if err != nil {
		return labrequest.Request{}, l.observe("create_lab_request", err)
	}
	l.observe("create_lab_request", nil)
	return r.Clone(), nil
}

// FulfillLabRequest closes a request. Only its submitter may.
func (l *Ledger) FulfillLabRequest(ctx context.Context, caller chain.Address, key chain.Hash) (labrequest.Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.labs.PlanFulfill(key, caller)
	if err != nil {
		return labrequest.Request{}, l.observe("fulfill_lab_request", err)
	}
	err = l.commit(ctx, entrywal.RecordFulfillLabRequest,
		mutation{Caller: caller, LabRequest: &r},
		nil,
		func(seq uint64) []event.Event {
			return []event.Event{event.ForLabRequest(seq, event.KindLabRequestFulfilled, r, l.now())}
		},
	)
	if err != nil {
		return labrequest.Request{}, l.observe("fulfill_lab_request", err)
	}
	l.observe("fulfill_lab_request", nil)
	return r.Clone(), nil
}

func (l *Ledger) GetLabRequest(key chain.Hash) (labrequest.Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.Get(key)
}

func (l *Ledger) AllLabRequests() []labrequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.All()
}

func (l *Ledger) LabRequestsByCountry(country string) []labrequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.ByCountry(country)
}

func (l *Ledger) LabRequestsByCountryCity(country, city string) []labrequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.ByCountryCity(country, city)
}

func (l *Ledger) LabRequestsBySubstrateAddress(substrate string) []labrequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.BySubstrateAddress(substrate)
}

func (l *Ledger) LabRequestsByRequester(requester chain.Address) []labrequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.ByRequester(requester)
}

func (l *Ledger) LabRequestCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labs.Count()
}
