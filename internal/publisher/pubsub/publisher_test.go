package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "judgments", map[string]string{"a": "b"})
	require.Error(t, err)
	require.NoError(t, New(nil).Close())
}

func TestOpenRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestPublishToFakeServer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "judgments-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "judgments")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { require.NoError(t, pub.Close()) })

	id, err := pub.Publish(ctx, "judgments", map[string]string{"case_number": "SCJ 1/2021"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"case_number":"SCJ 1/2021"}`, string(msgs[0].Data))
	require.Equal(t, EventJudgmentV1, msgs[0].Attributes[AttrEventType])
}
