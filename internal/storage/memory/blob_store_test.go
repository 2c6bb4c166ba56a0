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
	payload := []byte("%PDF-1.7")
	uri, err := store.PutObject(context.Background(), "artifacts/ab/abcd.pdf", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://artifacts/ab/abcd.pdf", uri)

	payload[0] = 'X'
	stored, ok := store.Object("artifacts/ab/abcd.pdf")
	require.True(t, ok)
	require.Equal(t, "%PDF-1.7", string(stored))
}
