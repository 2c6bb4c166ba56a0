package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "judgments"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "judgments", Prefix: "/raw/"})
	require.NoError(t, err)
	require.Equal(t, "raw/ab/abcd.pdf", store.ObjectName("ab/abcd.pdf"))

	bare, err := New(&storage.Client{}, Config{Bucket: "judgments"})
	require.NoError(t, err)
	require.Equal(t, "ab/abcd.pdf", bare.ObjectName("ab/abcd.pdf"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "judgments"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "application/pdf", nil)
	require.Error(t, err)
}
