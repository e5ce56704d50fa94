package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"labledger/domain/access"
	"labledger/domain/chain"
	"labledger/domain/escrow"
	"labledger/domain/event"
	"labledger/domain/labrequest"
	"labledger/domain/ledgererr"
	"labledger/domain/servicerequest"
	"labledger/infra/codec"
	"labledger/infra/sequence"
	"labledger/infra/token"
	entrywal "labledger/infra/wal/entry"
	exitwal "labledger/infra/wal/exit"
	"labledger/snapshot"
)

var (
	custody     = chain.MustAddress("0xc000000000000000000000000000000000000001")
	escrowAdmin = chain.MustAddress("0xe000000000000000000000000000000000000001")
	marketAdmin = chain.MustAddress("0xd000000000000000000000000000000000000001")
	customer    = chain.MustAddress("0xa000000000000000000000000000000000000001")
	seller      = chain.MustAddress("0xb000000000000000000000000000000000000001")
	lab         = chain.MustAddress("0x1a00000000000000000000000000000000000001")
	broke       = chain.MustAddress("0xf000000000000000000000000000000000000001")

	roles = access.Roles{Owner: escrowAdmin, EscrowAdmin: escrowAdmin, MarketplaceAdmin: marketAdmin}
)

type harness struct {
	t       testing.TB
	ledger  *Ledger
	tokens  *token.Ledger
	journal *entrywal.WAL
	outbox  *exitwal.ExitWAL
	walDir  string
	snapDir string
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	return newFundedHarness(t, big.NewInt(100))
}

func newFundedHarness(t testing.TB, funds *big.Int) *harness {
	t.Helper()
	tokens, err := token.Open("tokens", &pebble.Options{FS: vfs.NewMem()}, custody)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tokens.Close() })
	_, err = tokens.Seed(map[chain.Address]*big.Int{customer: funds})
	require.NoError(t, err)

	outbox, err := exitwal.Open("outbox", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	h := &harness{t: t, tokens: tokens, outbox: outbox, walDir: t.TempDir(), snapDir: t.TempDir()}
	h.restart()
	return h
}

// restart opens a fresh journal and ledger over the same stores, as a
// process restart would.
func (h *harness) restart() {
	if h.journal != nil {
		require.NoError(h.t, h.journal.Close())
	}
	journal, err := entrywal.Open(entrywal.Config{Dir: h.walDir, NoSync: true})
	require.NoError(h.t, err)
	h.journal = journal

	h.ledger = NewLedger(Deps{
		Roles:   roles,
		Tokens:  h.tokens,
		Journal: journal,
		Outbox:  h.outbox,
		Codec:   codec.JSON{},
		Seq:     sequence.New(0),
		Log:     quietLog(),
	})
	require.NoError(h.t, h.ledger.Recover(h.snapDir, h.walDir, h.outbox))
}

func (h *harness) balance(a chain.Address) int64 {
	h.t.Helper()
	b, err := h.tokens.BalanceOf(a)
	require.NoError(h.t, err)
	return b.Int64()
}

func payment(id string, amount int64) escrow.Payment {
	return escrow.Payment{
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

func TestPayThenFulfill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	o, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaid, o.Status)
	require.Equal(t, int64(87), h.balance(customer))
	require.Equal(t, int64(13), h.balance(custody))

	o, err = h.ledger.FulfillOrder(ctx, escrowAdmin, "order-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFulfilled, o.Status)
	require.Equal(t, int64(13), h.balance(seller))
	require.Equal(t, int64(0), h.balance(custody))

	_, err = h.ledger.FulfillOrder(ctx, escrowAdmin, "order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	require.Equal(t, uint64(2), h.ledger.Committed())
}

func TestPartialPaymentAndTopUps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	o, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 5))
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaidPartial, o.Status)
	require.Equal(t, int64(5), o.AmountPaid.Int64())

	o, err = h.ledger.TopUpOrderPayment(ctx, customer, "order-1", big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaidPartial, o.Status)
	require.Equal(t, int64(10), o.AmountPaid.Int64())

	o, err = h.ledger.TopUpOrderPayment(ctx, customer, "order-1", big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaid, o.Status)
	require.Equal(t, int64(13), o.AmountPaid.Int64())
	require.Equal(t, int64(87), h.balance(customer))

	_, err = h.ledger.TopUpOrderPayment(ctx, customer, "missing", big.NewInt(3))
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestPayWithoutFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	p := payment("order-1", 13)
	_, err := h.ledger.PayOrder(ctx, broke, p)
	require.ErrorIs(t, err, ledgererr.ErrInsufficientFunds)

	require.Equal(t, 0, h.ledger.OrderCount())
	require.Empty(t, h.ledger.OrdersByCustomerAddress(customer))
	require.Empty(t, h.ledger.OrdersBySellerSubstrateAddress(p.SellerSubstrateAddress))
	_, err = h.ledger.GetOrder("order-1")
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
	require.Equal(t, uint64(0), h.ledger.Committed())

	counts, err := h.outbox.Counts()
	require.NoError(t, err)
	require.Empty(t, counts)

	// The id stays free.
	_, err = h.ledger.PayOrder(ctx, customer, p)
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.ledger.Committed())
}

func TestDuplicateOrderRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)
	_, err = h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.ErrorIs(t, err, ledgererr.ErrAlreadyExists)
	require.Equal(t, int64(87), h.balance(customer))
}

func TestSettlementRequiresEscrowAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)

	_, err = h.ledger.FulfillOrder(ctx, customer, "order-1")
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)
	_, err = h.ledger.RefundOrder(ctx, marketAdmin, "order-1")
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)
	// Authorization is checked before existence.
	_, err = h.ledger.FulfillOrder(ctx, customer, "missing")
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)

	require.Equal(t, int64(0), h.balance(seller))
	o, err := h.ledger.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaid, o.Status)
}

func TestRefundSplitsPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)

	o, err := h.ledger.RefundOrder(ctx, escrowAdmin, "order-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, o.Status)
	require.Equal(t, int64(97), h.balance(customer))
	require.Equal(t, int64(3), h.balance(seller))
	require.Equal(t, int64(0), h.balance(custody))
}

func TestSettlingPartialOrderFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 5))
	require.NoError(t, err)

	_, err = h.ledger.FulfillOrder(ctx, escrowAdmin, "order-1")
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
	require.Equal(t, int64(5), h.balance(custody))
}

func TestClaimNeedsValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r, err := h.ledger.CreateServiceRequest(ctx, customer, "Indonesia", "Jakarta", "WGS", big.NewInt(20))
	require.NoError(t, err)
	require.Equal(t, int64(80), h.balance(customer))

	_, err = h.ledger.ClaimServiceRequest(ctx, lab, r.Key)
	require.ErrorIs(t, err, ledgererr.ErrNotValidated)

	_, err = h.ledger.ValidateLabService(ctx, customer, lab, "WGS", "service-1")
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)

	_, err = h.ledger.ValidateLabService(ctx, marketAdmin, lab, "WGS", "service-1")
	require.NoError(t, err)

	claimed, err := h.ledger.ClaimServiceRequest(ctx, lab, r.Key)
	require.NoError(t, err)
	require.Equal(t, servicerequest.StatusClaimed, claimed.Status)
	require.Equal(t, lab, claimed.Lab)

	_, err = h.ledger.ClaimServiceRequest(ctx, lab, r.Key)
	require.ErrorIs(t, err, ledgererr.ErrAlreadyClaimed)

	require.Len(t, h.ledger.ServiceRequestsByCountryCity("Indonesia", "Jakarta"), 1)
	require.Len(t, h.ledger.ServiceRequestsByRequester(customer), 1)
}

func TestProcessCreatesPaidOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r, err := h.ledger.CreateServiceRequest(ctx, customer, "Indonesia", "Jakarta", "WGS", big.NewInt(13))
	require.NoError(t, err)
	_, err = h.ledger.ValidateLabService(ctx, marketAdmin, lab, "WGS", "service-1")
	require.NoError(t, err)

	p := payment("order-1", 999)
	_, _, err = h.ledger.ProcessServiceRequest(ctx, escrowAdmin, r.Key, p)
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)

	_, err = h.ledger.ClaimServiceRequest(ctx, lab, r.Key)
	require.NoError(t, err)

	_, _, err = h.ledger.ProcessServiceRequest(ctx, lab, r.Key, p)
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)

	processed, o, err := h.ledger.ProcessServiceRequest(ctx, escrowAdmin, r.Key, p)
	require.NoError(t, err)
	require.Equal(t, servicerequest.StatusProcessed, processed.Status)
	require.Equal(t, escrow.StatusPaid, o.Status)
	require.Equal(t, int64(13), o.AmountPaid.Int64())
	require.Equal(t, int64(87), h.balance(customer))
	require.Equal(t, int64(13), h.balance(custody))

	_, err = h.ledger.FulfillOrder(ctx, escrowAdmin, "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(13), h.balance(seller))
	require.Equal(t, int64(0), h.balance(custody))
}

func TestLabRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r, err := h.ledger.CreateLabRequest(ctx, customer, "5GrwvaEF", "Indonesia", "Jakarta", "DNA Sequencing", big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, labrequest.StatusOpen, r.Status)
	require.Equal(t, int64(93), h.balance(customer))

	_, err = h.ledger.FulfillLabRequest(ctx, lab, r.Key)
	require.ErrorIs(t, err, ledgererr.ErrUnauthorized)

	done, err := h.ledger.FulfillLabRequest(ctx, customer, r.Key)
	require.NoError(t, err)
	require.Equal(t, labrequest.StatusFulfilled, done.Status)

	require.Len(t, h.ledger.LabRequestsBySubstrateAddress("5GrwvaEF"), 1)
	require.Equal(t, 1, h.ledger.LabRequestCount())
}

func TestOutboxHoldsCommittedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)

	var kinds []event.Kind
	err = h.outbox.ScanPending(h.ledger.Committed(), func(rec exitwal.ExitRecord) error {
		e, err := codec.JSON{}.Decode(rec.Payload)
		require.NoError(t, err)
		require.Equal(t, "order-1", string(rec.Key))
		kinds = append(kinds, e.Kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []event.Kind{event.KindPaid}, kinds)
}

type failingJournal struct{}

func (failingJournal) Append(*entrywal.Record) error { return errors.New("disk full") }

func TestJournalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.journal = failingJournal{}

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.Error(t, err)
	require.Equal(t, ledgererr.KindUnknown, ledgererr.KindOf(err))

	require.Equal(t, int64(100), h.balance(customer))
	require.Equal(t, 0, h.ledger.OrderCount())
	counts, err := h.outbox.Counts()
	require.NoError(t, err)
	require.Empty(t, counts)
}

func TestRecoverFromJournal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 5))
	require.NoError(t, err)
	_, err = h.ledger.TopUpOrderPayment(ctx, customer, "order-1", big.NewInt(8))
	require.NoError(t, err)
	r, err := h.ledger.CreateServiceRequest(ctx, customer, "Indonesia", "Jakarta", "WGS", big.NewInt(20))
	require.NoError(t, err)
	_, err = h.ledger.ValidateLabService(ctx, marketAdmin, lab, "WGS", "service-1")
	require.NoError(t, err)
	_, err = h.ledger.ClaimServiceRequest(ctx, lab, r.Key)
	require.NoError(t, err)

	orders := h.ledger.AllOrders()
	requests := h.ledger.AllServiceRequests()
	h.restart()

	require.Equal(t, uint64(5), h.ledger.Committed())
	require.Equal(t, orders, h.ledger.AllOrders())
	require.Equal(t, requests, h.ledger.AllServiceRequests())
	_, err = h.ledger.LabServiceValidation(lab, "WGS")
	require.NoError(t, err)

	// Sequencing resumes after the journal.
	next, err := h.ledger.CreateServiceRequest(ctx, customer, "Indonesia", "Jakarta", "WGS", big.NewInt(20))
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Sequence)
	require.Equal(t, uint64(6), h.ledger.Committed())
}

func TestRecoverFromSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.NoError(t, err)
	_, err = h.ledger.CreateLabRequest(ctx, customer, "5GrwvaEF", "Indonesia", "Jakarta", "DNA Sequencing", big.NewInt(7))
	require.NoError(t, err)

	job := &SnapshotJob{
		Ledger:   h.ledger,
		Writer:   &snapshot.Writer{Dir: h.snapDir},
		Journal:  h.journal,
		Outbox:   h.outbox,
		Interval: time.Hour,
		Log:      quietLog(),
	}
	require.NoError(t, job.Once())

	_, err = h.ledger.FulfillOrder(ctx, escrowAdmin, "order-1")
	require.NoError(t, err)

	h.restart()
	require.Equal(t, uint64(3), h.ledger.Committed())
	o, err := h.ledger.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFulfilled, o.Status)
	require.Equal(t, 1, h.ledger.LabRequestCount())
}

func TestRecoverDropsUncommittedNotifications(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.outbox.Put(1, []exitwal.Message{{Key: []byte("order-1"), Payload: []byte("{}")}}))
	h.restart()

	counts, err := h.outbox.Counts()
	require.NoError(t, err)
	require.Empty(t, counts)
}

// uncertainJournal reports an unknown outcome for records of one type,
// optionally after writing them.
type uncertainJournal struct {
	inner   *entrywal.WAL
	on      entrywal.RecordType
	persist bool
}

func (j uncertainJournal) Append(r *entrywal.Record) error {
	if r.Type != j.on {
		return j.inner.Append(r)
	}
	if j.persist {
		if err := j.inner.Append(r); err != nil {
			return err
		}
	}
	return fmt.Errorf("fsync record %d: %w", r.Seq, entrywal.ErrUncertain)
}

func TestUncertainJournalWriteKeepsFundsWithRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.journal = uncertainJournal{inner: h.journal, on: entrywal.RecordPayOrder, persist: true}

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.ErrorIs(t, err, entrywal.ErrUncertain)
	require.Equal(t, int64(87), h.balance(customer))

	// Nothing else commits until a restart settles the tail.
	_, err = h.ledger.CreateLabRequest(ctx, customer, "5GrwvaEF", "Indonesia", "Jakarta", "DNA Sequencing", big.NewInt(7))
	require.ErrorIs(t, err, entrywal.ErrUncertain)
	require.Equal(t, int64(87), h.balance(customer))

	h.restart()
	o, err := h.ledger.GetOrder("order-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPaid, o.Status)
	require.Equal(t, int64(87), h.balance(customer))
	require.Equal(t, int64(13), h.balance(custody))
	require.Equal(t, uint64(1), h.ledger.Committed())
	require.Empty(t, h.ledger.Unreconciled())

	counts, err := h.outbox.Counts()
	require.NoError(t, err)
	require.NotEmpty(t, counts)
}

func TestRecoverReportsStrandedTransfers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.journal = uncertainJournal{inner: h.journal, on: entrywal.RecordPayOrder}

	_, err := h.ledger.PayOrder(ctx, customer, payment("order-1", 13))
	require.ErrorIs(t, err, entrywal.ErrUncertain)

	h.restart()
	require.Equal(t, 0, h.ledger.OrderCount())
	require.Equal(t, uint64(0), h.ledger.Committed())
	require.Equal(t, int64(13), h.balance(custody))

	stranded := h.ledger.Unreconciled()
	require.Len(t, stranded, 1)
	require.Equal(t, uint64(1), stranded[0].Seq)
	require.Equal(t, "debit", stranded[0].Kind)
	require.Equal(t, customer, stranded[0].Account)
	require.Equal(t, int64(13), stranded[0].Amount.Int64())

	// The seq is reused; the earlier attempt is still reported.
	_, err = h.ledger.CreateLabRequest(ctx, customer, "5GrwvaEF", "Indonesia", "Jakarta", "DNA Sequencing", big.NewInt(7))
	require.NoError(t, err)
	h.restart()
	require.Equal(t, uint64(1), h.ledger.Committed())
	require.Len(t, h.ledger.Unreconciled(), 1)
}

func TestReversedMovesLeaveNothingToReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ledger.PayOrder(ctx, broke, payment("order-1", 13))
	require.ErrorIs(t, err, ledgererr.ErrInsufficientFunds)
	_, err = h.ledger.PayOrder(ctx, customer, payment("order-2", 13))
	require.NoError(t, err)

	h.ledger.journal = failingJournal{}
	_, err = h.ledger.PayOrder(ctx, customer, payment("order-3", 13))
	require.Error(t, err)

	h.restart()
	require.Empty(t, h.ledger.Unreconciled())
	require.Equal(t, 1, h.ledger.OrderCount())
	require.Equal(t, int64(87), h.balance(customer))
}

func TestSnapshotJobRunsWithoutInterval(t *testing.T) {
	h := newHarness(t)
	job := &SnapshotJob{
		Ledger:  h.ledger,
		Writer:  &snapshot.Writer{Dir: h.snapDir},
		Journal: h.journal,
		Outbox:  h.outbox,
		Log:     quietLog(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NotPanics(t, func() { job.Run(ctx) })
}
