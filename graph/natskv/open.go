package natskv

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphdb/natsclient"
)

// BucketConfig returns the configuration Open creates missing buckets with.
func BucketConfig(bucket string, replicas int) jetstream.KeyValueConfig {
	if replicas < 1 {
		replicas = 1
	}
	return jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "graphdb vertices, edges and identity indexes",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    replicas,
	}
}

// Open returns a Store on bucket, creating the bucket when absent. Closing
// the Store closes client.
func Open(ctx context.Context, client *natsclient.Client, cfg jetstream.KeyValueConfig, opts ...Option) (*Store, error) {
	kv, err := client.CreateKeyValueBucket(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(kv, append(opts, WithCloser(client.Close))...)
}
