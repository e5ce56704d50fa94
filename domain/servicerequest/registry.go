package servicerequest

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/index"
	"labledger/domain/ledgererr"
)

// Registry owns service requests and lab-service validations. Like the
// order ledger it plans transitions without mutating and applies them
// infallibly; callers serialize access.
type Registry struct {
	requests map[chain.Hash]*Request
	keys     []chain.Hash
	nextSeq  uint64

	byRequester *index.Index[chain.Address, chain.Hash]
	byCountry   *index.Index[string, chain.Hash]
	byPlace     *index.Index[index.Place, chain.Hash]

	validations map[validationKey]string
}

func NewRegistry() *Registry {
	return &Registry{
		requests:    make(map[chain.Hash]*Request),
		byRequester: index.New[chain.Address, chain.Hash](),
		byCountry:   index.New[string, chain.Hash](),
		byPlace:     index.New[index.Place, chain.Hash](),
		validations: make(map[validationKey]string),
	}
}

// ---- planning ----

func (g *Registry) PlanCreate(requester chain.Address, country, city, category string, stake *big.Int) (Request, error) {
	if requester.IsZero() {
		return Request{}, ledgererr.InvalidArgument("requester address is empty")
	}
	if !chain.ValidAmount(stake) {
		return Request{}, ledgererr.InvalidArgument("staking amount must be an unsigned 256-bit integer")
	}

	seq := g.nextSeq
	key := requestKey(requester, country, city, category, stake, seq)
	if _, ok := g.requests[key]; ok {
		return Request{}, ledgererr.AlreadyExists("service request %s already exists", key)
	}

	return Request{
		Key:             key,
		Requester:       requester,
		Country:         country,
		City:            city,
		ServiceCategory: category,
		StakingAmount:   new(big.Int).Set(stake),
		Status:          StatusOpen,
		Sequence:        seq,
	}, nil
}

// PlanClaim checks, in order: the request exists, the lab is validated for
// its category, the request is still open.
func (g *Registry) PlanClaim(key chain.Hash, lab chain.Address) (Request, error) {
	stored, ok := g.requests[key]
	if !ok {
		return Request{}, ledgererr.NotFound("service request %s", key)
	}
	if _, ok := g.validations[validationKey{lab: lab, category: stored.ServiceCategory}]; !ok {
		return Request{}, ledgererr.New(ledgererr.KindNotValidated,
			"lab's service has not been validated: lab %s, category %q", lab, stored.ServiceCategory)
	}
	if stored.Status != StatusOpen {
		return Request{}, ledgererr.New(ledgererr.KindAlreadyClaimed,
			"service request %s is already %s", key, stored.Status)
	}

	r := stored.Clone()
	r.Lab = lab
	r.Status = StatusClaimed
	return r, nil
}

func (g *Registry) PlanProcess(key chain.Hash) (Request, error) {
	stored, ok := g.requests[key]
	if !ok {
		return Request{}, ledgererr.NotFound("service request %s", key)
	}
	if stored.Status != StatusClaimed {
		return Request{}, ledgererr.InvalidState("service request %s is %s, want %s", key, stored.Status, StatusClaimed)
	}

	r := stored.Clone()
	r.Status = StatusProcessed
	return r, nil
}

func (g *Registry) PlanValidation(lab chain.Address, category, serviceID string) (Validation, error) {
	if lab.IsZero() {
		return Validation{}, ledgererr.InvalidArgument("lab address is empty")
	}
	return Validation{Lab: lab, ServiceCategory: category, ServiceID: serviceID}, nil
}

// ---- applying ----

// Apply stores a planned request. A request not seen before is appended to
// every index and consumes a sequence number; a known one only changes
// status and lab.
func (g *Registry) Apply(r Request) {
	r = r.Clone()
	stored, ok := g.requests[r.Key]
	if !ok {
		g.requests[r.Key] = &r
		g.keys = append(g.keys, r.Key)
		if r.Sequence >= g.nextSeq {
			g.nextSeq = r.Sequence + 1
		}
		g.byRequester.Append(r.Requester, r.Key)
		g.byCountry.Append(r.Country, r.Key)
		g.byPlace.Append(index.Place{Country: r.Country, City: r.City}, r.Key)
		return
	}

	if stored.Lab.IsZero() {
		stored.Lab = r.Lab
	}
	stored.Status = r.Status
}

// ApplyValidation inserts or overwrites the (lab, category) entry.
func (g *Registry) ApplyValidation(v Validation) {
	g.validations[validationKey{lab: v.Lab, category: v.ServiceCategory}] = v.ServiceID
}

// ---- queries ----

func (g *Registry) Get(key chain.Hash) (Request, error) {
	r, ok := g.requests[key]
	if !ok {
		return Request{}, ledgererr.NotFound("service request %s", key)
	}
	return r.Clone(), nil
}

func (g *Registry) All() []Request {
	return g.collect(g.keys)
}

func (g *Registry) ByCountry(country string) []Request {
	return g.collect(g.byCountry.Get(country))
}

func (g *Registry) ByCountryCity(country, city string) []Request {
	return g.collect(g.byPlace.Get(index.Place{Country: country, City: city}))
}

func (g *Registry) ByRequester(requester chain.Address) []Request {
	return g.collect(g.byRequester.Get(requester))
}

func (g *Registry) Count() int {
	return len(g.keys)
}

func (g *Registry) Validation(lab chain.Address, category string) (Validation, error) {
	id, ok := g.validations[validationKey{lab: lab, category: category}]
	if !ok {
		return Validation{}, ledgererr.NotFound("no validation for lab %s, category %q", lab, category)
	}
	return Validation{Lab: lab, ServiceCategory: category, ServiceID: id}, nil
}

// Validations lists every entry; order is unspecified.
func (g *Registry) Validations() []Validation {
	out := make([]Validation, 0, len(g.validations))
	for k, id := range g.validations {
		out = append(out, Validation{Lab: k.lab, ServiceCategory: k.category, ServiceID: id})
	}
	return out
}

func (g *Registry) collect(keys []chain.Hash) []Request {
	out := make([]Request, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.requests[k].Clone())
	}
	return out
}

// Restore rebuilds a registry from requests in creation order and the
// validation table.
func Restore(requests []Request, validations []Validation) *Registry {
	g := NewRegistry()
	for _, r := range requests {
		g.Apply(r)
	}
	for _, v := range validations {
		g.ApplyValidation(v)
	}
	return g
}
