package service

import (
	"context"
	"math/big"

	"labledger/domain/access"
	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/event"
	"labledger/domain/servicerequest"
	entrywal "labledger/infra/wal/entry"
)

// CreateServiceRequest stakes amount from caller and opens a request.
func (l *Ledger) CreateServiceRequest(ctx context.Context, caller chain.Address, country, city, category string, stake *big.Int) (servicerequest.Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.requests.PlanCreate(caller, country, city, category, stake)
	if err != nil {
		return servicerequest.Request{}, l.observe("create_service_request", err)
	}
	err = l.commit(ctx, entrywal.RecordCreateServiceRequest,
		mutation{Caller: caller, ServiceRequest: &r},
		[]move{debitOf(caller, stake)},
		func(seq uint64) []event.Event {
			return []event.Event{event.ForServiceRequest(seq, event.KindRequestCreated, r, l.now())}
		},
	)
	if err != nil {
		return servicerequest.Request{}, l.observe("create_service_request", err)
	}
	l.observe("create_service_request", nil)
	return r.Clone(), nil
}

// ValidateLabService allows lab to claim requests of category. Marketplace
// admin only; a second call for the same pair overwrites the service id.
func (l *Ledger) ValidateLabService(ctx context.Context, caller, lab chain.Address, category, serviceID string) (servicerequest.Validation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.roles.Require(access.MarketplaceAdmin, caller); err != nil {
		return servicerequest.Validation{}, l.observe("validate_lab_service", err)
	}
	v, err := l.requests.PlanValidation(lab, category, serviceID)
	if err != nil {
		return servicerequest.Validation{}, l.observe("validate_lab_service", err)
	}
	err = l.commit(ctx, entrywal.RecordValidateLabService,
		mutation{Caller: caller, Validation: &v},
		nil,
		func(seq uint64) []event.Event {
			return []event.Event{event.ForValidation(seq, v, l.now())}
		},
	)
	if err != nil {
		return servicerequest.Validation{}, l.observe("validate_lab_service", err)
	}
	l.observe("validate_lab_service", nil)
	return v, nil
}

// ClaimServiceRequest assigns the request to caller, who must be a lab
// validated for the request's category.
func (l *Ledger) ClaimServiceRequest(ctx context.Context, caller chain.Address, key chain.Hash) (servicerequest.Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.requests.PlanClaim(key, caller)
	if err != nil {
		return servicerequest.Request{}, l.observe("claim_service_request", err)
	}
	err = l.commit(ctx, entrywal.RecordClaimServiceRequest,
		mutation{Caller: caller, ServiceRequest: &r},
		nil,
		func(seq uint64) []event.Event {
			return []event.Event{event.ForServiceRequest(seq, event.KindRequestClaimed, r, l.now())}
		},
	)
	if err != nil {
		return servicerequest.Request{}, l.observe("claim_service_request", err)
	}
	l.observe("claim_service_request", nil)
	return r.Clone(), nil
}

// ProcessServiceRequest settles a claimed request into a new order. The
// stake is already in custody, so the order is created paid with the
// staking amount and no funds move. The amount field of p is ignored.
// Escrow admin only.
func (l *Ledger) ProcessServiceRequest(ctx context.Context, caller chain.Address, key chain.Hash, p escrow.Payment) (servicerequest.Request, escrow.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.roles.Require(access.EscrowAdmin, caller); err != nil {
		return servicerequest.Request{}, escrow.Order{}, l.observe("process_service_request", err)
	}
	r, err := l.requests.PlanProcess(key)
	if err != nil {
		return servicerequest.Request{}, escrow.Order{}, l.observe("process_service_request", err)
	}

	p = p.Clone()
	p.Amount = new(big.Int).Set(r.StakingAmount)
	t, err := l.orders.PlanPay(p)
	if err != nil {
		return servicerequest.Request{}, escrow.Order{}, l.observe("process_service_request", err)
	}

	err = l.commit(ctx, entrywal.RecordProcessServiceRequest,
		mutation{
			Caller:         caller,
			ServiceRequest: &r,
			Orders:         []orderChange{{Order: t.Order, Created: true}},
			Payment:        &p,
		},
		nil,
		func(seq uint64) []event.Event {
			now := l.now()
			return []event.Event{
				event.ForProcessed(seq, r, p, now),
				event.ForOrder(seq, t.Order, now),
			}
		},
	)
	if err != nil {
		return servicerequest.Request{}, escrow.Order{}, l.observe("process_service_request", err)
	}
	l.observe("process_service_request", nil)
	return r.Clone(), t.Order.Clone(), nil
}

// ---- queries ----

func (l *Ledger) GetServiceRequest(key chain.Hash) (servicerequest.Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.Get(key)
}

func (l *Ledger) AllServiceRequests() []servicerequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.All()
}

func (l *Ledger) ServiceRequestsByCountry(country string) []servicerequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.ByCountry(country)
}

func (l *Ledger) ServiceRequestsByCountryCity(country, city string) []servicerequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.ByCountryCity(country, city)
}

func (l *Ledger) ServiceRequestsByRequester(requester chain.Address) []servicerequest.Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.ByRequester(requester)
}

func (l *Ledger) ServiceRequestCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.Count()
}

func (l *Ledger) LabServiceValidation(lab chain.Address, category string) (servicerequest.Validation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests.Validation(lab, category)
}
