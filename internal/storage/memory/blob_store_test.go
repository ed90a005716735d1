package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"count":1}`)
	uri, err := store.PutObject(context.Background(), "results/job-1/abc.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://results/job-1/abc.json", uri)

	payload[0] = 'X'
	stored, ok := store.Object("results/job-1/abc.json")
	require.True(t, ok)
	require.Equal(t, `{"count":1}`, string(stored))
	require.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	require.False(t, ok)
}
