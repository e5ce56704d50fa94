package escrow

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

type Status uint8

const (
	StatusPaidPartial Status = iota
	StatusPaid
	StatusFulfilled
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusPaidPartial:
		return "PaidPartial"
	case StatusPaid:
		return "Paid"
	case StatusFulfilled:
		return "Fulfilled"
	case StatusRefunded:
		return "Refunded"
	default:
		return "Unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusRefunded
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusPaidPartial, StatusPaid, StatusFulfilled, StatusRefunded} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return ledgererr.InvalidArgument("unknown order status %q", string(text))
}

// Order is an escrow-custodied payment for one lab service. Everything but
// AmountPaid and Status is fixed when the order is created.
type Order struct {
	ID                       string        `json:"order_id"`
	Hash                     chain.Hash    `json:"hash"`
	ServiceID                string        `json:"service_id"`
	CustomerSubstrateAddress string        `json:"customer_substrate_address"`
	SellerSubstrateAddress   string        `json:"seller_substrate_address"`
	CustomerAddress          chain.Address `json:"customer_address"`
	SellerAddress            chain.Address `json:"seller_address"`
	DNASampleTrackingID      string        `json:"dna_sample_tracking_id"`
	TestingPrice             *big.Int      `json:"testing_price"`
	QCPrice                  *big.Int      `json:"qc_price"`
	AmountPaid               *big.Int      `json:"amount_paid"`
	Status                   Status        `json:"status"`
}

func (o Order) TotalPrice() *big.Int {
	return new(big.Int).Add(o.TestingPrice, o.QCPrice)
}

// Clone returns a copy that shares no amounts with o.
func (o Order) Clone() Order {
	o.TestingPrice = cloneInt(o.TestingPrice)
	o.QCPrice = cloneInt(o.QCPrice)
	o.AmountPaid = cloneInt(o.AmountPaid)
	return o
}

// Payment is the settlement tuple accepted by the pay path. It is copied by
// value between registries.
type Payment struct {
	OrderID                  string        `json:"order_id"`
	ServiceID                string        `json:"service_id"`
	CustomerSubstrateAddress string        `json:"customer_substrate_address"`
	SellerSubstrateAddress   string        `json:"seller_substrate_address"`
	CustomerAddress          chain.Address `json:"customer_address"`
	SellerAddress            chain.Address `json:"seller_address"`
	DNASampleTrackingID      string        `json:"dna_sample_tracking_id"`
	TestingPrice             *big.Int      `json:"testing_price"`
	QCPrice                  *big.Int      `json:"qc_price"`
	Amount                   *big.Int      `json:"amount"`
}

func (p Payment) Validate() error {
	if p.OrderID == "" {
		return ledgererr.InvalidArgument("order id is empty")
	}
	if p.CustomerAddress.IsZero() || p.SellerAddress.IsZero() {
		return ledgererr.InvalidArgument("order %q needs both customer and seller addresses", p.OrderID)
	}
	amounts := []struct {
		name  string
		value *big.Int
	}{
		{"testing price", p.TestingPrice},
		{"qc price", p.QCPrice},
		{"amount", p.Amount},
	}
	for _, a := range amounts {
		if !chain.ValidAmount(a.value) {
			return ledgererr.InvalidArgument("order %q: %s must be an unsigned 256-bit integer", p.OrderID, a.name)
		}
	}
	if !chain.ValidAmount(new(big.Int).Add(p.TestingPrice, p.QCPrice)) {
		return ledgererr.InvalidArgument("order %q: total price overflows", p.OrderID)
	}
	return nil
}

func (p Payment) Clone() Payment {
	p.TestingPrice = cloneInt(p.TestingPrice)
	p.QCPrice = cloneInt(p.QCPrice)
	p.Amount = cloneInt(p.Amount)
	return p
}

func (p Payment) hash() chain.Hash {
	return chain.Keccak256(chain.Pack(
		p.OrderID,
		p.ServiceID,
		p.CustomerSubstrateAddress,
		p.SellerSubstrateAddress,
		p.CustomerAddress,
		p.SellerAddress,
		p.DNASampleTrackingID,
		p.TestingPrice,
		p.QCPrice,
	))
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
