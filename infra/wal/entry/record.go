package entry

import "time"

type RecordType uint8

const (
	RecordPayOrder RecordType = iota + 1
	RecordTopUpOrder
	RecordFulfillOrder
	RecordRefundOrder
	RecordCreateServiceRequest
	RecordValidateLabService
	RecordClaimServiceRequest
	RecordProcessServiceRequest
	RecordCreateLabRequest
	RecordFulfillLabRequest

	// RecordIntent lists the token moves a command is about to make;
	// RecordAbort marks them reversed. Neither advances the sequence.
	RecordIntent
	RecordAbort
)

// Marker reports whether t brackets a command rather than committing one.
func (t RecordType) Marker() bool {
	return t == RecordIntent || t == RecordAbort
}

func (t RecordType) String() string {
	switch t {
	case RecordPayOrder:
		return "pay_order"
	case RecordTopUpOrder:
		return "top_up_order"
	case RecordFulfillOrder:
		return "fulfill_order"
	case RecordRefundOrder:
		return "refund_order"
	case RecordCreateServiceRequest:
		return "create_service_request"
	case RecordValidateLabService:
		return "validate_lab_service"
	case RecordClaimServiceRequest:
		return "claim_service_request"
	case RecordProcessServiceRequest:
		return "process_service_request"
	case RecordCreateLabRequest:
		return "create_lab_request"
	case RecordFulfillLabRequest:
		return "fulfill_lab_request"
	case RecordIntent:
		return "intent"
	case RecordAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Record is one journaled command. Data is the command payload as encoded
// by the caller; the WAL does not interpret it.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
