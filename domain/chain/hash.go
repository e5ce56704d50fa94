package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"labledger/domain/ledgererr"
)

const HashLength = common.HashLength

// Hash is a keccak256 digest used as a record key.
type Hash = common.Hash

func HexToHash(s string) (Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != HashLength {
		return Hash{}, ledgererr.InvalidArgument("hash %q must be %d hex bytes", s, HashLength)
	}
	return common.BytesToHash(b), nil
}

func Keccak256(data ...[]byte) Hash {
	return crypto.Keccak256Hash(data...)
}

// MaxUint256 bounds every token amount.
var MaxUint256 = new(big.Int).Set(math.MaxBig256)

// ValidAmount reports whether v fits an unsigned 256-bit amount.
func ValidAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(math.MaxBig256) <= 0
}

// Pack concatenates values the way abi.encodePacked does: strings as raw
// bytes, addresses as 20 bytes, integers as 32-byte big-endian words.
// Amounts must already be valid.
func Pack(values ...interface{}) []byte {
	out := make([]byte, 0, 64*len(values))
	for _, v := range values {
		switch x := v.(type) {
		case string:
			out = append(out, x...)
		case Address:
			out = append(out, x.Common().Bytes()...)
		case *big.Int:
			if x == nil {
				x = new(big.Int)
			}
			out = append(out, math.U256Bytes(new(big.Int).Set(x))...)
		case uint64:
			out = append(out, common.LeftPadBytes(new(big.Int).SetUint64(x).Bytes(), 32)...)
		default:
			panic("chain.Pack: unsupported type")
		}
	}
	return out
}
