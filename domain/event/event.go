// Package event describes the notifications emitted for every committed
// state transition. Each event carries the full post-transition record.
package event

import (
	"time"

	"github.com/google/uuid"

	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
)

type Kind string

const (
	KindPaidPartial         Kind = "PaidPartial"
	KindPaid                Kind = "Paid"
	KindFulfilled           Kind = "Fulfilled"
	KindRefunded            Kind = "Refunded"
	KindRequestCreated      Kind = "RequestCreated"
	KindRequestClaimed      Kind = "RequestClaimed"
	KindRequestProcessed    Kind = "RequestProcessed"
	KindLabServiceValidated Kind = "LabServiceValidated"
	KindLabRequestCreated   Kind = "LabRequestCreated"
	KindLabRequestFulfilled Kind = "LabRequestFulfilled"
)

type Event struct {
	ID   uuid.UUID `json:"id"`
	Seq  uint64    `json:"seq"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Order          *escrow.Order              `json:"order,omitempty"`
	ServiceRequest *servicerequest.Request    `json:"service_request,omitempty"`
	LabRequest     *labrequest.Request        `json:"lab_request,omitempty"`
	Validation     *servicerequest.Validation `json:"validation,omitempty"`
	// Payment is the settlement tuple a processed service request forwarded.
	Payment *escrow.Payment `json:"payment,omitempty"`
}

func newEvent(seq uint64, kind Kind, at time.Time) Event {
	return Event{ID: uuid.New(), Seq: seq, Kind: kind, Time: at.UTC()}
}

// ForOrder picks Paid, PaidPartial, Fulfilled or Refunded from the order status.
func ForOrder(seq uint64, o escrow.Order, at time.Time) Event {
	var kind Kind
	switch o.Status {
	case escrow.StatusPaidPartial:
		kind = KindPaidPartial
	case escrow.StatusPaid:
		kind = KindPaid
	case escrow.StatusFulfilled:
		kind = KindFulfilled
	case escrow.StatusRefunded:
		kind = KindRefunded
	}
	e := newEvent(seq, kind, at)
	o = o.Clone()
	e.Order = &o
	return e
}

func ForServiceRequest(seq uint64, kind Kind, r servicerequest.Request, at time.Time) Event {
	e := newEvent(seq, kind, at)
	r = r.Clone()
	e.ServiceRequest = &r
	return e
}

func ForProcessed(seq uint64, r servicerequest.Request, p escrow.Payment, at time.Time) Event {
	e := ForServiceRequest(seq, KindRequestProcessed, r, at)
	p = p.Clone()
	e.Payment = &p
	return e
}

func ForValidation(seq uint64, v servicerequest.Validation, at time.Time) Event {
	e := newEvent(seq, KindLabServiceValidated, at)
	e.Validation = &v
	return e
}

func ForLabRequest(seq uint64, kind Kind, r labrequest.Request, at time.Time) Event {
	e := newEvent(seq, kind, at)
	r = r.Clone()
	e.LabRequest = &r
	return e
}

// Key is the partition key used on the wire: the id of the record the
// event is about.
func (e Event) Key() string {
	switch {
	case e.Order != nil:
		return e.Order.ID
	case e.ServiceRequest != nil:
		return e.ServiceRequest.Key.Hex()
	case e.LabRequest != nil:
		return e.LabRequest.Key.Hex()
	case e.Validation != nil:
		return e.Validation.Lab.String()
	}
	return e.ID.String()
}
