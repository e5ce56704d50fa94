package escrow

import (
	"math/big"

	"labledger/domain/chain"
	"labledger/domain/index"
	"labledger/domain/ledgererr"
)

// Credit is a payout from custody that a transition requires.
type Credit struct {
	Account chain.Address
	Amount  *big.Int
}

// Transition is a planned, not yet applied, change to one order.
// Order holds the post-transition snapshot.
type Transition struct {
	Order   Order
	Created bool
	Credits []Credit
}

// Ledger is the order registry. It is single-writer: Plan* methods are pure
// and validate everything, Apply cannot fail. Callers serialize access.
type Ledger struct {
	orders map[string]*Order
	ids    []string
	byHash map[chain.Hash]string

	byCustomerSubstrate *index.Index[string, string]
	bySellerSubstrate   *index.Index[string, string]
	byCustomer          *index.Index[chain.Address, string]
	bySeller            *index.Index[chain.Address, string]
}

func NewLedger() *Ledger {
	return &Ledger{
		orders:              make(map[string]*Order),
		byHash:              make(map[chain.Hash]string),
		byCustomerSubstrate: index.New[string, string](),
		bySellerSubstrate:   index.New[string, string](),
		byCustomer:          index.New[chain.Address, string](),
		bySeller:            index.New[chain.Address, string](),
	}
}

// ---- planning ----

func (l *Ledger) PlanPay(p Payment) (Transition, error) {
	if err := p.Validate(); err != nil {
		return Transition{}, err
	}
	if _, ok := l.orders[p.OrderID]; ok {
		return Transition{}, ledgererr.AlreadyExists("order %q already exists", p.OrderID)
	}
	h := p.hash()
	if _, ok := l.byHash[h]; ok {
		return Transition{}, ledgererr.AlreadyExists("order hash %s already exists", h)
	}

	o := Order{
		ID:                       p.OrderID,
		Hash:                     h,
		ServiceID:                p.ServiceID,
		CustomerSubstrateAddress: p.CustomerSubstrateAddress,
		SellerSubstrateAddress:   p.SellerSubstrateAddress,
		CustomerAddress:          p.CustomerAddress,
		SellerAddress:            p.SellerAddress,
		DNASampleTrackingID:      p.DNASampleTrackingID,
		TestingPrice:             cloneInt(p.TestingPrice),
		QCPrice:                  cloneInt(p.QCPrice),
		AmountPaid:               cloneInt(p.Amount),
	}
	o.Status = paymentStatus(o)

	return Transition{Order: o, Created: true}, nil
}

// PlanTopUp adds amount to a non-terminal order. Paying past the total is
// accepted and recorded; the excess is not returned.
func (l *Ledger) PlanTopUp(orderID string, amount *big.Int) (Transition, error) {
	stored, ok := l.orders[orderID]
	if !ok {
		return Transition{}, ledgererr.NotFound("order %q", orderID)
	}
	if stored.Status.Terminal() {
		return Transition{}, ledgererr.InvalidState("order %q is %s", orderID, stored.Status)
	}
	if !chain.ValidAmount(amount) || amount.Sign() == 0 {
		return Transition{}, ledgererr.InvalidArgument("top-up amount for order %q must be positive", orderID)
	}

	o := stored.Clone()
	o.AmountPaid.Add(o.AmountPaid, amount)
	if !chain.ValidAmount(o.AmountPaid) {
		return Transition{}, ledgererr.InvalidArgument("order %q: amount paid overflows", orderID)
	}
	o.Status = paymentStatus(o)

	return Transition{Order: o}, nil
}

// PlanFulfill releases the full price to the seller.
func (l *Ledger) PlanFulfill(orderID string) (Transition, error) {
	o, err := l.settleable(orderID)
	if err != nil {
		return Transition{}, err
	}
	o.Status = StatusFulfilled

	return Transition{
		Order:   o,
		Credits: []Credit{{Account: o.SellerAddress, Amount: o.TotalPrice()}},
	}, nil
}

// PlanRefund returns the testing price to the customer. The QC fee stays
// with the seller for work done before the refund.
func (l *Ledger) PlanRefund(orderID string) (Transition, error) {
	o, err := l.settleable(orderID)
	if err != nil {
		return Transition{}, err
	}
	o.Status = StatusRefunded

	return Transition{
		Order: o,
		Credits: []Credit{
			{Account: o.CustomerAddress, Amount: cloneInt(o.TestingPrice)},
			{Account: o.SellerAddress, Amount: cloneInt(o.QCPrice)},
		},
	}, nil
}

func (l *Ledger) settleable(orderID string) (Order, error) {
	stored, ok := l.orders[orderID]
	if !ok {
		return Order{}, ledgererr.NotFound("order %q", orderID)
	}
	if stored.Status != StatusPaid {
		return Order{}, ledgererr.InvalidState("order %q is %s, want %s", orderID, stored.Status, StatusPaid)
	}
	return stored.Clone(), nil
}

func paymentStatus(o Order) Status {
	if o.AmountPaid.Cmp(o.TotalPrice()) >= 0 {
		return StatusPaid
	}
	return StatusPaidPartial
}

// ---- applying ----

// Apply commits a transition produced by one of the Plan methods. Indices
// are extended only for newly created orders.
func (l *Ledger) Apply(t Transition) {
	o := t.Order.Clone()
	if t.Created {
		l.orders[o.ID] = &o
		l.ids = append(l.ids, o.ID)
		l.byHash[o.Hash] = o.ID
		l.byCustomerSubstrate.Append(o.CustomerSubstrateAddress, o.ID)
		l.bySellerSubstrate.Append(o.SellerSubstrateAddress, o.ID)
		l.byCustomer.Append(o.CustomerAddress, o.ID)
		l.bySeller.Append(o.SellerAddress, o.ID)
		return
	}

	stored := l.orders[o.ID]
	stored.AmountPaid = o.AmountPaid
	stored.Status = o.Status
}

// ---- queries ----

func (l *Ledger) Get(orderID string) (Order, error) {
	o, ok := l.orders[orderID]
	if !ok {
		return Order{}, ledgererr.NotFound("order %q", orderID)
	}
	return o.Clone(), nil
}

func (l *Ledger) GetByHash(h chain.Hash) (Order, error) {
	id, ok := l.byHash[h]
	if !ok {
		return Order{}, ledgererr.NotFound("order hash %s", h)
	}
	return l.Get(id)
}

func (l *Ledger) All() []Order {
	return l.collect(l.ids)
}

func (l *Ledger) ByCustomerSubstrateAddress(addr string) []Order {
	return l.collect(l.byCustomerSubstrate.Get(addr))
}

func (l *Ledger) BySellerSubstrateAddress(addr string) []Order {
	return l.collect(l.bySellerSubstrate.Get(addr))
}

func (l *Ledger) ByCustomerAddress(addr chain.Address) []Order {
	return l.collect(l.byCustomer.Get(addr))
}

func (l *Ledger) BySellerAddress(addr chain.Address) []Order {
	return l.collect(l.bySeller.Get(addr))
}

func (l *Ledger) Count() int {
	return len(l.ids)
}

func (l *Ledger) collect(ids []string) []Order {
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.orders[id].Clone())
	}
	return out
}

// Restore rebuilds a ledger from orders listed in creation order.
func Restore(orders []Order) *Ledger {
	l := NewLedger()
	for _, o := range orders {
		l.Apply(Transition{Order: o, Created: true})
	}
	return l
}
