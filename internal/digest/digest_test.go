package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidWidths(t *testing.T) {
	for _, bits := range []int{64, 128, 256, 512} {
		h, err := New(bits)
		require.NoError(t, err, "bits=%d", bits)
		assert.Equal(t, bits, h.Bits())
		assert.Equal(t, bits/8, h.Size())
		assert.Len(t, h.Sum([]byte("hello")), bits/8)
	}
}

func TestNew_InvalidWidths(t *testing.T) {
	for _, bits := range []int{0, 7, 56, 100, 520, 1024} {
		_, err := New(bits)
		assert.Error(t, err, "bits=%d", bits)
	}
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNew(12) })
}

func TestZeroHasherUsesDefault(t *testing.T) {
	var h Hasher
	assert.Equal(t, DefaultBits, h.Bits())
	assert.Equal(t, MustNew(DefaultBits).Sum([]byte("x")), h.Sum([]byte("x")))
}

func TestSum_Deterministic(t *testing.T) {
	h := MustNew(256)
	a := h.Sum([]byte("hello"))
	b := h.Sum([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, h.Sum([]byte("hellO")))
}

func TestSum_ShorterWidthIsPrefix(t *testing.T) {
	// SHAKE output is a stream: a narrower digest is a prefix of a wider one.
	short := MustNew(64).Sum([]byte("payload"))
	long := MustNew(512).Sum([]byte("payload"))
	assert.True(t, bytes.HasPrefix(long, short))
}

func TestSum_KnownVector(t *testing.T) {
	// SHAKE256("") first 32 bytes.
	got := String(MustNew(256).Sum(nil))
	assert.Equal(t, "46b9dd2b0ba88d13233b3feb743eeb243fcd52ea62b81b82b50c27646ed5762f", got)
}
