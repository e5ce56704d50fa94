package service

import (
	"context"
	"math/big"

	"labledger/domain/access"
	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/event"
	entrywal "labledger/infra/wal/entry"
)

// PayOrder creates an order and debits p.Amount from caller into custody.
func (l *Ledger) PayOrder(ctx context.Context, caller chain.Address, p escrow.Payment) (escrow.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.orders.PlanPay(p)
	if err != nil {
		return escrow.Order{}, l.observe("pay_order", err)
	}
	err = l.commit(ctx, entrywal.RecordPayOrder,
		mutation{Caller: caller, Orders: []orderChange{{Order: t.Order, Created: true}}},
		[]move{debitOf(caller, p.Amount)},
		l.orderEvents(t.Order),
	)
	if err != nil {
		return escrow.Order{}, l.observe("pay_order", err)
	}
	l.observe("pay_order", nil)
	return t.Order.Clone(), nil
}

// TopUpOrderPayment adds amount to a non-terminal order. Anyone may pay.
func (l *Ledger) TopUpOrderPayment(ctx context.Context, caller chain.Address, orderID string, amount *big.Int) (escrow.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.orders.PlanTopUp(orderID, amount)
	if err != nil {
		return escrow.Order{}, l.observe("top_up_order", err)
	}
	err = l.commit(ctx, entrywal.RecordTopUpOrder,
		mutation{Caller: caller, Orders: []orderChange{{Order: t.Order}}},
		[]move{debitOf(caller, amount)},
		l.orderEvents(t.Order),
	)
	if err != nil {
		return escrow.Order{}, l.observe("top_up_order", err)
	}
	l.observe("top_up_order", nil)
	return t.Order.Clone(), nil
}

// FulfillOrder releases the full price to the seller. Escrow admin only.
func (l *Ledger) FulfillOrder(ctx context.Context, caller chain.Address, orderID string) (escrow.Order, error) {
	return l.settle(ctx, "fulfill_order", entrywal.RecordFulfillOrder, caller, orderID, l.orders.PlanFulfill)
}

// RefundOrder returns the testing price to the customer and pays the QC
// fee to the seller. Escrow admin only.
func (l *Ledger) RefundOrder(ctx context.Context, caller chain.Address, orderID string) (escrow.Order, error) {
	return l.settle(ctx, "refund_order", entrywal.RecordRefundOrder, caller, orderID, l.orders.PlanRefund)
}

func (l *Ledger) settle(
	ctx context.Context,
	op string,
	typ entrywal.RecordType,
	caller chain.Address,
	orderID string,
	plan func(string) (escrow.Transition, error),
) (escrow.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.roles.Require(access.EscrowAdmin, caller); err != nil {
		return escrow.Order{}, l.observe(op, err)
	}
	t, err := plan(orderID)
	if err != nil {
		return escrow.Order{}, l.observe(op, err)
	}
	err = l.commit(ctx, typ,
		mutation{Caller: caller, Orders: []orderChange{{Order: t.Order}}},
		creditsOf(t.Credits),
		l.orderEvents(t.Order),
	)
	if err != nil {
		return escrow.Order{}, l.observe(op, err)
	}
	l.observe(op, nil)
	return t.Order.Clone(), nil
}

func (l *Ledger) orderEvents(o escrow.Order) func(uint64) []event.Event {
	return func(seq uint64) []event.Event {
		return []event.Event{event.ForOrder(seq, o, l.now())}
	}
}

// ---- queries ----

func (l *Ledger) GetOrder(orderID string) (escrow.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.Get(orderID)
}

func (l *Ledger) GetOrderByHash(h chain.Hash) (escrow.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.GetByHash(h)
}

func (l *Ledger) AllOrders() []escrow.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.All()
}

func (l *Ledger) OrdersByCustomerSubstrateAddress(addr string) []escrow.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.ByCustomerSubstrateAddress(addr)
}

func (l *Ledger) OrdersBySellerSubstrateAddress(addr string) []escrow.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.BySellerSubstrateAddress(addr)
}

func (l *Ledger) OrdersByCustomerAddress(addr chain.Address) []escrow.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.ByCustomerAddress(addr)
}

func (l *Ledger) OrdersBySellerAddress(addr chain.Address) []escrow.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.BySellerAddress(addr)
}

func (l *Ledger) OrderCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders.Count()
}
