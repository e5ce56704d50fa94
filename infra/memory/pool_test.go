package memory

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolResetsOnGet(t *testing.T) {
	p := NewPool(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
		nil,
	)

	b := p.Get()
	b.WriteString("stale")
	p.Put(b)

	require.Zero(t, p.Get().Len())
}

func TestPoolDropsRejected(t *testing.T) {
	made := 0
	p := NewPool(
		func() *bytes.Buffer { made++; return new(bytes.Buffer) },
		nil,
		func(b *bytes.Buffer) bool { return b.Cap() <= 16 },
	)

	big := p.Get()
	big.Grow(1024)
	p.Put(big)
	p.Put(nil)

	require.NotSame(t, big, p.Get())
	require.Equal(t, 2, made)
}
