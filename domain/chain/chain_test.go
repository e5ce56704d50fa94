package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"labledger/domain/ledgererr"
)

func TestHexToAddressNormalises(t *testing.T) {
	a, err := HexToAddress("0xAbCdEf0123456789abcdef0123456789ABCDEF01")
	require.NoError(t, err)
	require.Equal(t, Address("0xabcdef0123456789abcdef0123456789abcdef01"), a)
	require.Len(t, a.Bytes(), AddressLength)

	_, err = HexToAddress("0x1234")
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)

	_, err = HexToAddress("0xzzcdef0123456789abcdef0123456789abcdef01")
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)
}

func TestAddressCommonRoundTrip(t *testing.T) {
	checksummed := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	a, err := HexToAddress(checksummed)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(checksummed), a.Common())
	require.Equal(t, a, FromCommon(a.Common()))
	require.Nil(t, Address("").Bytes())
}

func TestHexToHashAcceptsBareHex(t *testing.T) {
	h := Keccak256([]byte("req"))
	back, err := HexToHash(h.Hex()[2:])
	require.NoError(t, err)
	require.Equal(t, h, back)

	_, err = HexToHash("0x1234")
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)
}

func TestKeccak256KnownVector(t *testing.T) {
	require.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256().Hex())
}

func TestHashTextRoundTrip(t *testing.T) {
	h := Keccak256([]byte("order"))
	text, err := h.MarshalText()
	require.NoError(t, err)

	var back Hash
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, h, back)
}

func TestPackWidths(t *testing.T) {
	addr := MustAddress("0x00000000000000000000000000000000000000aa")
	packed := Pack("ab", addr, big.NewInt(7), uint64(9))

	require.Len(t, packed, 2+20+32+32)
	require.Equal(t, byte(0xaa), packed[2+19])
	require.Equal(t, byte(7), packed[2+20+31])
	require.Equal(t, byte(9), packed[len(packed)-1])
}

func TestValidAmount(t *testing.T) {
	require.True(t, ValidAmount(big.NewInt(0)))
	require.True(t, ValidAmount(MaxUint256))
	require.False(t, ValidAmount(nil))
	require.False(t, ValidAmount(big.NewInt(-1)))
	require.False(t, ValidAmount(new(big.Int).Add(MaxUint256, big.NewInt(1))))
}
