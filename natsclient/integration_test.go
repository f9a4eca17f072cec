//go:build integration

package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RequestReply(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	require.NoError(t, tc.Client.Subscribe(ctx, "echo", "workers", func(_ context.Context, msg *nats.Msg) {
		_ = msg.Respond(append([]byte("echo:"), msg.Data...))
	}))

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reply, err := tc.Client.Request(reqCtx, "echo", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))
}

func TestIntegration_ConsumeStream(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := tc.Client.EnsureStream(ctx, jetstream.StreamConfig{Name: "INGEST", Subjects: []string{"ingest.>"}})
	require.NoError(t, err)

	var acked, termed atomic.Int32
	err = tc.Client.ConsumeStream(ctx, ConsumerConfig{Stream: "INGEST", Durable: "test", MaxDeliver: 3},
		func(msg jetstream.Msg) {
			if string(msg.Data()) == "bad" {
				_ = msg.Term()
				termed.Add(1)
				return
			}
			_ = msg.Ack()
			acked.Add(1)
		})
	require.NoError(t, err)

	require.NoError(t, tc.Client.PublishToStream(ctx, "ingest.doc", []byte("good")))
	require.NoError(t, tc.Client.PublishToStream(ctx, "ingest.doc", []byte("bad")))

	require.Eventually(t, func() bool {
		return acked.Load() == 1 && termed.Load() == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestIntegration_KeyValueBucket(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("graph"))
	ctx := context.Background()

	again, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "graph"})
	require.NoError(t, err)
	_, err = again.Create(ctx, "k", []byte("v"))
	require.NoError(t, err)

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "graph")
	require.NoError(t, err)
	entry, err := bucket.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(entry.Value()))

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "graph"))
	_, err = tc.Client.GetKeyValueBucket(ctx, "graph")
	require.Error(t, err)
}
