package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/engine"
	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/memstore"
	"github.com/c360/graphdb/natsclient"
	"github.com/c360/graphdb/schema"
)

const gridIndex = `[
	{"Name": "ShortName", "Type": "graph", "Indexer": "property", "Field": ".ShortName"},
	{"Name": "Organization", "Type": "graph", "Indexer": "separate-node", "Field": ".Organizations[]",
	 "Configuration": {"properties": ["ShortName"], "relationship": "PublishedBy"}}
]`

const gridMessage = `{
	"meta": {"concept-id": "G1"},
	"umm": {
		"MetadataSpecification": {"Name": "Grid"},
		"ShortName": "X",
		"Organizations": [{"ShortName": "NASA"}]
	}
}`

// flakyStore fails the first failures EnsureVertex calls transiently.
type flakyStore struct {
	*memstore.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) EnsureVertex(ctx context.Context, label string, key graph.Property, props graph.Properties) (string, bool, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return "", false, errors.WrapTransient(errors.ErrStorageUnavailable, "flakyStore", "EnsureVertex", "write vertex")
	}
	return f.Store.EnsureVertex(ctx, label, key, props)
}

func newTestEngine(t *testing.T, failures int32) (*engine.Engine, *flakyStore, *schema.Index) {
	t.Helper()
	store := &flakyStore{Store: memstore.New(memstore.WithIDGenerator(memstore.SequentialIDs("v")))}
	store.failures.Store(failures)
	eng, err := engine.New(engine.Dependencies{Store: store})
	require.NoError(t, err)
	idx, err := schema.Parse([]byte(gridIndex))
	require.NoError(t, err)
	return eng, store, idx
}

// fakeMsg records how a message was settled.
type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte

	mu      sync.Mutex
	settled []string
}

func newMsg(subject, data string) *fakeMsg {
	return &fakeMsg{subject: subject, data: []byte(data)}
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { return m.settle(OutcomeAcked) }
func (m *fakeMsg) Nak() error      { return m.settle(OutcomeNacked) }
func (m *fakeMsg) Term() error     { return m.settle(OutcomeTerminated) }

func (m *fakeMsg) settle(outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, outcome)
	return nil
}

func (m *fakeMsg) Settled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.settled...)
}

// fakeSource captures the stream and consumer a consumer asks for.
type fakeSource struct {
	mu        sync.Mutex
	stream    jetstream.StreamConfig
	consumer  natsclient.ConsumerConfig
	handler   func(jetstream.Msg)
	streamErr error
}

func (s *fakeSource) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = cfg
	return nil, s.streamErr
}

func (s *fakeSource) ConsumeStream(_ context.Context, cfg natsclient.ConsumerConfig, handler func(jetstream.Msg)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = cfg
	s.handler = handler
	return nil
}

func (s *fakeSource) deliver(msg jetstream.Msg) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(msg)
}

// fakeSubscriber captures a subscription.
type fakeSubscriber struct {
	subject string
	queue   string
	handler func(context.Context, *nats.Msg)
	err     error
}

func (s *fakeSubscriber) Subscribe(_ context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error {
	s.subject, s.queue, s.handler = subject, queue, handler
	return s.err
}
