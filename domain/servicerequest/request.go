package servicerequest

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

type Status uint8

const (
	StatusOpen Status = iota
	StatusClaimed
	StatusProcessed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusClaimed:
		return "Claimed"
	case StatusProcessed:
		return "Processed"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusOpen, StatusClaimed, StatusProcessed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return ledgererr.InvalidArgument("unknown service request status %q", string(text))
}

// Request is a staked request for a genomic service. Its key is derived
// from the creation fields plus a registry sequence number, so identical
// requests still get distinct keys.
type Request struct {
	Key             chain.Hash    `json:"key"`
	Requester       chain.Address `json:"requester"`
	Country         string        `json:"country"`
	City            string        `json:"city"`
	ServiceCategory string        `json:"service_category"`
	StakingAmount   *big.Int      `json:"staking_amount"`
	Status          Status        `json:"status"`
	Lab             chain.Address `json:"lab_address,omitempty"`
	Sequence        uint64        `json:"sequence"`
}

func (r Request) Clone() Request {
	if r.StakingAmount != nil {
		r.StakingAmount = new(big.Int).Set(r.StakingAmount)
	}
	return r
}

func requestKey(requester chain.Address, country, city, category string, stake *big.Int, seq uint64) chain.Hash {
	return chain.Keccak256(chain.Pack(requester, country, city, category, stake, seq))
}

// Validation certifies that a lab may claim requests of one category.
type Validation struct {
	Lab             chain.Address `json:"lab_address"`
	ServiceCategory string        `json:"service_category"`
	ServiceID       string        `json:"service_id"`
}

type validationKey struct {
	lab      chain.Address
	category string
}
