package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/big"

	sq "github.com/Masterminds/squirrel"
	"github.com/fatih/structs"
	"github.com/pkg/errors"

	"labledger/domain/escrow"
	"labledger/domain/event"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
)

const (
	eventsTable          = "events"
	ordersTable          = "orders"
	serviceRequestsTable = "service_requests"
	labRequestsTable     = "lab_requests"
	validationsTable     = "lab_validations"
)

type OrderRow struct {
	ID                       string `structs:"id" db:"id"`
	Hash                     string `structs:"hash" db:"hash"`
	ServiceID                string `structs:"service_id" db:"service_id"`
	CustomerSubstrateAddress string `structs:"customer_substrate_address" db:"customer_substrate_address"`
	SellerSubstrateAddress   string `structs:"seller_substrate_address" db:"seller_substrate_address"`
	CustomerAddress          string `structs:"customer_address" db:"customer_address"`
	SellerAddress            string `structs:"seller_address" db:"seller_address"`
	DNASampleTrackingID      string `structs:"dna_sample_tracking_id" db:"dna_sample_tracking_id"`
	TestingPrice             string `structs:"testing_price" db:"testing_price"`
	QCPrice                  string `structs:"qc_price" db:"qc_price"`
	AmountPaid               string `structs:"amount_paid" db:"amount_paid"`
	Status                   string `structs:"status" db:"status"`
	LastSeq                  uint64 `structs:"last_seq" db:"last_seq"`
}

type ServiceRequestRow struct {
	Key             string `structs:"key" db:"key"`
	Requester       string `structs:"requester" db:"requester"`
	Country         string `structs:"country" db:"country"`
	City            string `structs:"city" db:"city"`
	ServiceCategory string `structs:"service_category" db:"service_category"`
	StakingAmount   string `structs:"staking_amount" db:"staking_amount"`
	Status          string `structs:"status" db:"status"`
	LabAddress      string `structs:"lab_address" db:"lab_address"`
	Sequence        uint64 `structs:"sequence" db:"sequence"`
	LastSeq         uint64 `structs:"last_seq" db:"last_seq"`
}

type LabRequestRow struct {
	Key              string `structs:"key" db:"key"`
	Requester        string `structs:"requester" db:"requester"`
	SubstrateAddress string `structs:"substrate_address" db:"substrate_address"`
	Country          string `structs:"country" db:"country"`
	City             string `structs:"city" db:"city"`
	TestCategory     string `structs:"test_category" db:"test_category"`
	StakingAmount    string `structs:"staking_amount" db:"staking_amount"`
	Status           string `structs:"status" db:"status"`
	Sequence         uint64 `structs:"sequence" db:"sequence"`
	LastSeq          uint64 `structs:"last_seq" db:"last_seq"`
}

type ValidationRow struct {
	LabAddress      string `structs:"lab_address" db:"lab_address"`
	ServiceCategory string `structs:"service_category" db:"service_category"`
	ServiceID       string `structs:"service_id" db:"service_id"`
	LastSeq         uint64 `structs:"last_seq" db:"last_seq"`
}

// Store projects notifications into tables. Rows carry the sequence of the
// last event applied to them, and an upsert never moves a row backwards,
// so redelivered or reordered events are harmless.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Project records e and updates the row it describes, in one transaction.
// An event id seen before is skipped and reported as false.
func (s *Store) Project(ctx context.Context, e event.Event) (bool, error) {
	applied := false
	err := s.db.Transaction(ctx, func(tx *DB) error {
		inserted, err := insertEvent(ctx, tx, e)
		if err != nil || !inserted {
			return err
		}
		applied = true
		return upsertRecord(ctx, tx, e)
	})
	return applied, err
}

func insertEvent(ctx context.Context, db *DB, e event.Event) (bool, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal event")
	}
	stmt := psql.Insert(eventsTable).
		Columns("id", "seq", "kind", "record_key", "body", "created_at").
		Values(e.ID.String(), e.Seq, string(e.Kind), e.Key(), string(body), e.Time).
		Suffix("ON CONFLICT (id) DO NOTHING")
	n, err := db.Exec(ctx, stmt)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert event")
	}
	return n > 0, nil
}

func upsertRecord(ctx context.Context, db *DB, e event.Event) error {
	switch {
	case e.Order != nil:
		return upsert(ctx, db, ordersTable, "id", structs.Map(orderRow(e.Seq, *e.Order)),
			"amount_paid", "status")
	case e.ServiceRequest != nil:
		return upsert(ctx, db, serviceRequestsTable, "key", structs.Map(serviceRequestRow(e.Seq, *e.ServiceRequest)),
			"status", "lab_address")
	case e.LabRequest != nil:
		return upsert(ctx, db, labRequestsTable, "key", structs.Map(labRequestRow(e.Seq, *e.LabRequest)),
			"status")
	case e.Validation != nil:
		row := ValidationRow{
			LabAddress:      e.Validation.Lab.String(),
			ServiceCategory: e.Validation.ServiceCategory,
			ServiceID:       e.Validation.ServiceID,
			LastSeq:         e.Seq,
		}
		return upsert(ctx, db, validationsTable, "lab_address, service_category", structs.Map(row),
			"service_id")
	}
	return errors.Errorf("event %s carries no record", e.ID)
}

func upsert(ctx context.Context, db *DB, table, conflict string, values map[string]interface{}, mutable ...string) error {
	set := ""
	for _, col := range append(mutable, "last_seq") {
		if set != "" {
			set += ", "
		}
		set += col + " = EXCLUDED." + col
	}
	stmt := psql.Insert(table).SetMap(values).
		Suffix("ON CONFLICT (" + conflict + ") DO UPDATE SET " + set +
			" WHERE " + table + ".last_seq < EXCLUDED.last_seq")
	_, err := db.Exec(ctx, stmt)
	return errors.Wrapf(err, "failed to upsert into %s", table)
}

func orderRow(seq uint64, o escrow.Order) OrderRow {
	return OrderRow{
		ID:                       o.ID,
		Hash:                     o.Hash.Hex(),
		ServiceID:                o.ServiceID,
		CustomerSubstrateAddress: o.CustomerSubstrateAddress,
		SellerSubstrateAddress:   o.SellerSubstrateAddress,
		CustomerAddress:          o.CustomerAddress.String(),
		SellerAddress:            o.SellerAddress.String(),
		DNASampleTrackingID:      o.DNASampleTrackingID,
		TestingPrice:             amount(o.TestingPrice),
		QCPrice:                  amount(o.QCPrice),
		AmountPaid:               amount(o.AmountPaid),
		Status:                   o.Status.String(),
		LastSeq:                  seq,
	}
}

func serviceRequestRow(seq uint64, r servicerequest.Request) ServiceRequestRow {
	return ServiceRequestRow{
		Key:             r.Key.Hex(),
		Requester:       r.Requester.String(),
		Country:         r.Country,
		City:            r.City,
		ServiceCategory: r.ServiceCategory,
		StakingAmount:   amount(r.StakingAmount),
		Status:          r.Status.String(),
		LabAddress:      r.Lab.String(),
		Sequence:        r.Sequence,
		LastSeq:         seq,
	}
}

func labRequestRow(seq uint64, r labrequest.Request) LabRequestRow {
	return LabRequestRow{
		Key:              r.Key.Hex(),
		Requester:        r.Requester.String(),
		SubstrateAddress: r.SubstrateAddress,
		Country:          r.Country,
		City:             r.City,
		TestCategory:     r.TestCategory,
		StakingAmount:    amount(r.StakingAmount),
		Status:           r.Status.String(),
		Sequence:         r.Sequence,
		LastSeq:          seq,
	}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ---- queries ----

func (s *Store) Order(ctx context.Context, id string) (*OrderRow, error) {
	var row OrderRow
	err := s.db.Get(ctx, &row, psql.Select("*").From(ordersTable).Where(sq.Eq{"id": id}))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select order")
	}
	return &row, nil
}

func (s *Store) ServiceRequestsByPlace(ctx context.Context, country, city string) ([]ServiceRequestRow, error) {
	var rows []ServiceRequestRow
	stmt := psql.Select("*").From(serviceRequestsTable).
		Where(sq.Eq{"country": country, "city": city}).
		OrderBy("sequence")
	if err := s.db.Select(ctx, &rows, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to select service requests")
	}
	return rows, nil
}

func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var result struct {
		Seq sql.NullInt64 `db:"seq"`
	}
	if err := s.db.Get(ctx, &result, psql.Select("MAX(seq) AS seq").From(eventsTable)); err != nil {
		return 0, errors.Wrap(err, "failed to select last seq")
	}
	return uint64(result.Seq.Int64), nil
}
