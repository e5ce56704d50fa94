package labrequest

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/index"
	"labledger/domain/ledgererr"
)

type Status uint8

const (
	StatusOpen Status = iota
	// StatusInProgress is part of the record format but no operation
	// currently moves a request into it.
	StatusInProgress
	StatusFulfilled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusInProgress:
		return "InProgress"
	case StatusFulfilled:
		return "Fulfilled"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusOpen, StatusInProgress, StatusFulfilled} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return ledgererr.InvalidArgument("unknown lab request status %q", string(text))
}

type Request struct {
	Key              chain.Hash    `json:"key"`
	Requester        chain.Address `json:"requester"`
	SubstrateAddress string        `json:"substrate_address"`
	Country          string        `json:"country"`
	City             string        `json:"city"`
	TestCategory     string        `json:"test_category"`
	StakingAmount    *big.Int      `json:"staking_amount"`
	Status           Status        `json:"status"`
	Sequence         uint64        `json:"sequence"`
}

func (r Request) Clone() Request {
	if r.StakingAmount != nil {
		r.StakingAmount = new(big.Int).Set(r.StakingAmount)
	}
	return r
}

// Registry holds lab requests. Same plan/apply split as the other
// registries; there is no claim or validation step here.
type Registry struct {
	requests map[chain.Hash]*Request
	keys     []chain.Hash
	nextSeq  uint64

	byRequester *index.Index[chain.Address, chain.Hash]
	bySubstrate *index.Index[string, chain.Hash]
	byCountry   *index.Index[string, chain.Hash]
	byPlace     *index.Index[index.Place, chain.Hash]
}

func NewRegistry() *Registry {
	return &Registry{
		requests:    make(map[chain.Hash]*Request),
		byRequester: index.New[chain.Address, chain.Hash](),
		bySubstrate: index.New[string, chain.Hash](),
		byCountry:   index.New[string, chain.Hash](),
		byPlace:     index.New[index.Place, chain.Hash](),
	}
}

func (g *Registry) PlanCreate(requester chain.Address, substrate, country, city, category string, stake *big.Int) (Request, error) {
	if requester.IsZero() {
		return Request{}, ledgererr.InvalidArgument("requester address is empty")
	}
	if !chain.ValidAmount(stake) {
		return Request{}, ledgererr.InvalidArgument("staking amount must be an unsigned 256-bit integer")
	}

	seq := g.nextSeq
	key := chain.Keccak256(chain.Pack(requester, substrate, country, city, category, stake, seq))
	if _, ok := g.requests[key]; ok {
		return Request{}, ledgererr.AlreadyExists("lab request %s already exists", key)
	}

	return Request{
		Key:              key,
		Requester:        requester,
		SubstrateAddress: substrate,
		Country:          country,
		City:             city,
		TestCategory:     category,
		StakingAmount:    new(big.Int).Set(stake),
		Status:           StatusOpen,
		Sequence:         seq,
	}, nil
}

// PlanFulfill moves an open request straight to Fulfilled. Only the
// account that submitted the request may do so.
func (g *Registry) PlanFulfill(key chain.Hash, caller chain.Address) (Request, error) {
	stored, ok := g.requests[key]
	if !ok {
		return Request{}, ledgererr.NotFound("lab request %s", key)
	}
	if stored.Requester != caller {
		return Request{}, ledgererr.Unauthorized("caller %s is not the submitter of lab request %s", caller, key)
	}
	if stored.Status == StatusFulfilled {
		return Request{}, ledgererr.InvalidState("lab request %s is already %s", key, stored.Status)
	}

	r := stored.Clone()
	r.Status = StatusFulfilled
	return r, nil
}

func (g *Registry) Apply(r Request) {
	r = r.Clone()
	stored, ok := g.requests[r.Key]
	if ok {
		stored.Status = r.Status
		return
	}

	g.requests[r.Key] = &r
	g.keys = append(g.keys, r.Key)
	if r.Sequence >= g.nextSeq {
		g.nextSeq = r.Sequence + 1
	}
	g.byRequester.Append(r.Requester, r.Key)
	g.bySubstrate.Append(r.SubstrateAddress, r.Key)
	g.byCountry.Append(r.Country, r.Key)
	g.byPlace.Append(index.Place{Country: r.Country, City: r.City}, r.Key)
}

func (g *Registry) Get(key chain.Hash) (Request, error) {
	r, ok := g.requests[key]
	if !ok {
		return Request{}, ledgererr.NotFound("lab request %s", key)
	}
	return r.Clone(), nil
}

func (g *Registry) All() []Request { return g.collect(g.keys) }

func (g *Registry) ByCountry(country string) []Request {
	return g.collect(g.byCountry.Get(country))
}

func (g *Registry) ByCountryCity(country, city string) []Request {
	return g.collect(g.byPlace.Get(index.Place{Country: country, City: city}))
}

func (g *Registry) BySubstrateAddress(substrate string) []Request {
	return g.collect(g.bySubstrate.Get(substrate))
}

func (g *Registry) ByRequester(requester chain.Address) []Request {
	return g.collect(g.byRequester.Get(requester))
}

func (g *Registry) Count() int { return len(g.keys) }

func (g *Registry) collect(keys []chain.Hash) []Request {
	out := make([]Request, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.requests[k].Clone())
	}
	return out
}

func Restore(requests []Request) *Registry {
	g := NewRegistry()
	for _, r := range requests {
		g.Apply(r)
	}
	return g
}
