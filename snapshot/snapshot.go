package snapshot

import (
	"time"

	"labledger/domain/escrow"
	"labledger/domain/labrequest"
	"labledger/domain/servicerequest"
)

// State is everything the ledger holds in memory as of command Seq.
// Records are listed in creation order so restoring rebuilds identical
// indices.
type State struct {
	Seq             uint64
	Created         time.Time
	Orders          []escrow.Order
	ServiceRequests []servicerequest.Request
	Validations     []servicerequest.Validation
	LabRequests     []labrequest.Request
}
