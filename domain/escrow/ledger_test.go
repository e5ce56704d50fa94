package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

var (
	customer = chain.MustAddress("0xc000000000000000000000000000000000000001")
	seller   = chain.MustAddress("0x5000000000000000000000000000000000000002")
)

func payment(id string, amount int64) Payment {
	return Payment{
		OrderID:                  id,
		ServiceID:                "xLNpoyWsY63Z8SYQeBHf",
		CustomerSubstrateAddress: "700fJuhXgfwi9WjBovRy",
		SellerSubstrateAddress:   "Lg9Z3Ncbn5VNnxuJEVxX",
		CustomerAddress:          customer,
		SellerAddress:            seller,
		DNASampleTrackingID:      "3CQguUxa2pOodID3Ni62",
		TestingPrice:             big.NewInt(10),
		QCPrice:                  big.NewInt(3),
		Amount:                   big.NewInt(amount),
	}
}

func pay(t *testing.T, l *Ledger, p Payment) Order {
	t.Helper()
	tr, err := l.PlanPay(p)
	require.NoError(t, err)
	l.Apply(tr)
	return tr.Order
}

func TestPayFullAmountIsPaid(t *testing.T) {
	l := NewLedger()
	o := pay(t, l, payment("order-1", 13))

	require.Equal(t, StatusPaid, o.Status)
	require.Equal(t, int64(13), o.AmountPaid.Int64())
	require.Equal(t, 1, l.Count())
}

func TestPartialPaymentThenTopUps(t *testing.T) {
	l := NewLedger()
	o := pay(t, l, payment("order-1", 5))
	require.Equal(t, StatusPaidPartial, o.Status)

	tr, err := l.PlanTopUp("order-1", big.NewInt(5))
	require.NoError(t, err)
	l.Apply(tr)
	got, err := l.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, StatusPaidPartial, got.Status)
	require.Equal(t, int64(10), got.AmountPaid.Int64())

	tr, err = l.PlanTopUp("order-1", big.NewInt(3))
	require.NoError(t, err)
	l.Apply(tr)
	got, err = l.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.Equal(t, int64(13), got.AmountPaid.Int64())
}

func TestPlanDoesNotMutate(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 5))

	_, err := l.PlanTopUp("order-1", big.NewInt(8))
	require.NoError(t, err)

	got, err := l.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), got.AmountPaid.Int64())
	require.Equal(t, StatusPaidPartial, got.Status)
}

func TestOverpaymentIsRecorded(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 13))

	tr, err := l.PlanTopUp("order-1", big.NewInt(4))
	require.NoError(t, err)
	l.Apply(tr)

	got, err := l.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.Equal(t, int64(17), got.AmountPaid.Int64())
}

func TestDuplicateOrderID(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 13))

	_, err := l.PlanPay(payment("order-1", 13))
	require.ErrorIs(t, err, ledgererr.ErrAlreadyExists)
	require.Equal(t, 1, l.Count())
}

func TestFulfillCreditsSellerTotal(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 13))

	tr, err := l.PlanFulfill("order-1")
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, tr.Order.Status)
	require.Len(t, tr.Credits, 1)
	require.Equal(t, seller, tr.Credits[0].Account)
	require.Equal(t, int64(13), tr.Credits[0].Amount.Int64())
	l.Apply(tr)

	_, err = l.PlanFulfill("order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	_, err = l.PlanRefund("order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	_, err = l.PlanTopUp("order-1", big.NewInt(1))
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
}

func TestRefundSplitsTestingAndQC(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 13))

	tr, err := l.PlanRefund("order-1")
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, tr.Order.Status)
	require.Equal(t, []Credit{
		{Account: customer, Amount: big.NewInt(10)},
		{Account: seller, Amount: big.NewInt(3)},
	}, tr.Credits)
}

func TestSettlingUnpaidOrder(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 12))

	_, err := l.PlanFulfill("order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	_, err = l.PlanRefund("order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	_, err = l.PlanFulfill("missing")
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
	_, err = l.PlanTopUp("missing", big.NewInt(1))
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestInvalidPayments(t *testing.T) {
	l := NewLedger()

	p := payment("", 13)
	_, err := l.PlanPay(p)
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)

	p = payment("order-1", 13)
	p.QCPrice = big.NewInt(-1)
	_, err = l.PlanPay(p)
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)

	p = payment("order-1", 13)
	p.SellerAddress = ""
	_, err = l.PlanPay(p)
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)

	pay(t, l, payment("order-1", 1))
	_, err = l.PlanTopUp("order-1", big.NewInt(0))
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)
}

func TestSecondaryLookupsMatchPrimary(t *testing.T) {
	l := NewLedger()
	first := pay(t, l, payment("order-1", 13))
	second := payment("order-2", 2)
	second.CustomerSubstrateAddress = "other-customer"
	pay(t, l, second)

	byID, err := l.Get("order-1")
	require.NoError(t, err)
	byHash, err := l.GetByHash(first.Hash)
	require.NoError(t, err)
	require.Equal(t, byID, byHash)

	require.Equal(t, []Order{byID}, l.ByCustomerSubstrateAddress("700fJuhXgfwi9WjBovRy"))
	require.Len(t, l.BySellerSubstrateAddress("Lg9Z3Ncbn5VNnxuJEVxX"), 2)
	require.Len(t, l.ByCustomerAddress(customer), 2)
	require.Len(t, l.BySellerAddress(seller), 2)
	require.Equal(t, "order-1", l.All()[0].ID)

	_, err = l.GetByHash(chain.Keccak256([]byte("nope")))
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestQueriesReturnCopies(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 5))

	got, err := l.Get("order-1")
	require.NoError(t, err)
	got.AmountPaid.SetInt64(1000)

	again, err := l.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), again.AmountPaid.Int64())
}

func TestRestoreRebuildsIndices(t *testing.T) {
	l := NewLedger()
	pay(t, l, payment("order-1", 13))
	pay(t, l, payment("order-2", 1))

	restored := Restore(l.All())

	require.Equal(t, l.All(), restored.All())
	require.Equal(t, l.ByCustomerAddress(customer), restored.ByCustomerAddress(customer))
	require.Equal(t, 2, restored.Count())
}
