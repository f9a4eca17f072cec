// Package natsclient wraps a NATS connection and the JetStream resources the
// graph service runs on: the ingest stream, the query request subject and the
// key-value bucket behind the natskv graph backend.
//
// Connect dials with exponential backoff (cenkalti/backoff) up to the
// configured attempt count; authorization failures stop retrying at once.
// After the first connection the NATS client library handles reconnects and
// the Client tracks them in its ConnectionStatus.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithToken(token),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "graph"})
//
// ConsumeStream hands each jetstream.Msg to the caller, who settles it: Ack on
// success, Nak to redeliver, Term to drop a message that can never succeed.
//
// Tests needing a live server use NewTestClient, which starts a NATS container
// through testcontainers. Those tests carry the integration build tag.
package natsclient
