package access

import (
	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

type Role int

const (
	Owner Role = iota
	EscrowAdmin
	MarketplaceAdmin
)

func (r Role) String() string {
	switch r {
	case Owner:
		return "owner"
	case EscrowAdmin:
		return "escrow admin"
	case MarketplaceAdmin:
		return "marketplace admin"
	default:
		return "unknown role"
	}
}

// Roles is fixed at startup. Each role is a single account compared by
// identity; the owner has no ledger powers of its own.
type Roles struct {
	Owner            chain.Address
	EscrowAdmin      chain.Address
	MarketplaceAdmin chain.Address
}

func (r Roles) Holder(role Role) chain.Address {
	switch role {
	case Owner:
		return r.Owner
	case EscrowAdmin:
		return r.EscrowAdmin
	case MarketplaceAdmin:
		return r.MarketplaceAdmin
	default:
		return ""
	}
}

// Require admits caller only when it is the configured holder of role.
// An unconfigured role admits nobody.
func (r Roles) Require(role Role, caller chain.Address) error {
	holder := r.Holder(role)
	if holder.IsZero() || caller != holder {
		return ledgererr.Unauthorized("caller %s is not the %s", caller, role)
	}
	return nil
}

func (r Roles) Validate() error {
	if r.EscrowAdmin.IsZero() {
		return ledgererr.InvalidArgument("escrow admin is not configured")
	}
	if r.MarketplaceAdmin.IsZero() {
		return ledgererr.InvalidArgument("marketplace admin is not configured")
	}
	return nil
}
