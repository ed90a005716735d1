package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	payload := []byte(`{"query":"coffee","count":0}`)
	first, err := h.Hash(payload)
	require.NoError(t, err)
	require.Len(t, first, 64)

	again, err := h.Hash(payload)
	require.NoError(t, err)
	require.Equal(t, first, again)

	other, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", other)
}
