package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphdb/errors"
)

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// EnsureStream creates the stream or updates its configuration.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}
	c.cfg.logger.Debug("Stream ready", "stream", cfg.Name, "subjects", cfg.Subjects)
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}
	return nil
}

// ConsumerConfig selects the durable consumer ConsumeStream attaches to.
type ConsumerConfig struct {
	Stream        string
	Durable       string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// ConsumeStream attaches handler to a durable pull consumer with explicit
// acks. The handler owns each message and settles it with Ack, Nak or Term.
// Consuming stops when ctx ends or the client closes; attaching the same
// durable again replaces the earlier handler.
func (c *Client) ConsumeStream(ctx context.Context, cfg ConsumerConfig, handler func(jetstream.Msg)) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if cfg.Stream == "" || cfg.Durable == "" {
		return errors.WrapInvalid(fmt.Errorf("stream and durable are required"),
			"Client", "ConsumeStream", "validate consumer config")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeStream",
			fmt.Sprintf("create consumer %s on %s", cfg.Durable, cfg.Stream))
	}
	cc, err := consumer.Consume(handler)
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeStream", "start consume")
	}
	if err := c.trackConsumer(cfg.Durable, cc); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			cc.Stop()
		case <-cc.Closed():
		}
	}()

	c.cfg.logger.Info("Consuming stream", "stream", cfg.Stream, "consumer", cfg.Durable, "filter", cfg.FilterSubject)
	return nil
}

func (c *Client) trackConsumer(durable string, cc jetstream.ConsumeContext) error {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.consumers == nil {
		cc.Stop()
		return ErrClientClosed
	}
	if prev, ok := c.consumers[durable]; ok {
		prev.Stop()
	}
	c.consumers[durable] = cc
	return nil
}

func (c *Client) stopConsumers() {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	for durable, cc := range c.consumers {
		cc.Stop()
		c.cfg.logger.Debug("Stopped consumer", "consumer", durable)
	}
	c.consumers = nil
}

// CreateKeyValueBucket returns the bucket named in cfg, creating it when
// absent. Losing a creation race to another instance is not an error.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}
	if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "look up bucket "+cfg.Bucket)
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	c.cfg.logger.Info("KV bucket ready", "bucket", cfg.Bucket, "history", cfg.History)
	return bucket, nil
}

// GetKeyValueBucket returns an existing bucket. A missing bucket is invalid.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	switch {
	case err == nil:
		return bucket, nil
	case stderrors.Is(err, jetstream.ErrBucketNotFound):
		return nil, errors.WrapInvalid(err, "Client", "GetKeyValueBucket", "bucket "+name)
	default:
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "bucket "+name)
	}
}

// DeleteKeyValueBucket removes a bucket and everything in it. Deleting a
// missing bucket succeeds.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if err := js.DeleteKeyValue(ctx, name); err != nil && !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return errors.WrapTransient(err, "Client", "DeleteKeyValueBucket", "delete bucket "+name)
	}
	return nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) || stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
