// Package chain holds the settlement-account identity and hashing
// primitives shared by every registry.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"labledger/domain/ledgererr"
)

const AddressLength = common.AddressLength

// Address is a 0x-prefixed, lower-case, 20-byte hex account identifier.
// It stays a string so it can key maps and travel in JSON untouched.
// The zero value means "unset".
type Address string

func HexToAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ledgererr.InvalidArgument("address %q must be %d hex bytes", s, AddressLength)
	}
	return FromCommon(common.HexToAddress(s)), nil
}

// MustAddress is HexToAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := HexToAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromCommon(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

func (a Address) IsZero() bool {
	return a == ""
}

func (a Address) String() string {
	return string(a)
}

// Bytes returns the 20 raw bytes, or nil for the zero address.
func (a Address) Bytes() []byte {
	if a.IsZero() {
		return nil
	}
	return a.Common().Bytes()
}
