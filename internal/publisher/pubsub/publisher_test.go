package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestPublisherPublishesPageEvent(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	_, err := client.CreateTopic(ctx, "pages")
	require.NoError(t, err)

	pub := New(client)
	event := scraper.PageEvent{
		EventID:    "evt-1",
		JobID:      "job-1",
		URL:        "https://books.test/p1",
		Status:     scraper.OutcomeSuccess,
		Records:    20,
		Attempts:   1,
		RecordedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "pages", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	require.Equal(t, "success", msgs[0].Attributes["status"])

	var decoded scraper.PageEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, event, decoded)

	require.NoError(t, pub.Close())
}

func TestPublisherMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	pub := New(client)
	defer pub.Close() //nolint:errcheck // test cleanup

	_, err := pub.Publish(ctx, "absent", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "publish message")

	_, err = pub.Publish(ctx, "", "payload")
	require.ErrorContains(t, err, "topic is required")
}

func TestPublisherNotConfigured(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "pages", "x")
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, (&Publisher{}).Close())
}
