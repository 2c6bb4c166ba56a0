package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "judgments", map[string]string{"case_number": "SCJ 1/2021"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "judgments", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "judgments", pub.Messages()[0].Topic)

	require.Equal(t, []any{"payload"}, pub.Payloads("audit"))
	require.Empty(t, pub.Payloads("missing"))
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "judgments", "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, New().Messages())
}
