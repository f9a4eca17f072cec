//go:build integration

package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/natsclient"
)

func TestIntegration_IngestThenQuery(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, store, idx := newTestEngine(t, 0)

	consumer, err := NewIngestConsumer(tc.Client, eng, idx, testIngestConfig())
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))
	defer func() { _ = consumer.Stop(5 * time.Second) }()

	responder, err := NewQueryResponder(tc.Client, eng, "graph.query", "graphdb-query")
	require.NoError(t, err)
	require.NoError(t, responder.Start(ctx))
	defer responder.Stop()

	require.NoError(t, tc.Client.PublishToStream(ctx, "graph.ingest.document", []byte(gridMessage)))
	require.NoError(t, tc.Client.PublishToStream(ctx, "graph.ingest.document", []byte(`{"meta":`)))

	require.Eventually(t, func() bool {
		n, err := store.CountVertices(ctx, "Grid")
		return err == nil && n == 1
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		info := consumer.GetStatus()
		return info.MessagesProcessed == 1 && info.MessagesFailed == 1
	}, 10*time.Second, 50*time.Millisecond)

	req := []byte(`{"descriptor": {"op": "related", "label": "Grid", "property": "id", "value": "G1", "edge_label": "PublishedBy"}}`)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	reply, err := tc.Client.Request(reqCtx, "graph.query", req)
	require.NoError(t, err)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.True(t, resp.Success, resp.Error)
	require.Len(t, resp.Vertices, 1)
	assert.Equal(t, "Organization", resp.Vertices[0].Label)
}
