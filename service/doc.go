// Package service exposes the engine over NATS.
//
// IngestConsumer attaches a durable consumer to the ingest stream (by default
// GRAPH_INGEST on graph.ingest.>). The last subject token selects the
// handler: "document" messages carry a search result record
//
//	{"meta": {"concept-id": "G1"}, "umm": {...}}
//
// and "acl" messages carry an ACL document. Messages run on a worker pool.
// Transient failures retry the whole message with exponential backoff; a
// message that still fails is nacked for redelivery, an invalid one is
// terminated.
//
// QueryResponder answers request/reply on the query subject. The request is
//
//	{"descriptor": {"op": "find", "label": "Grid"}, "groups": ["g1"]}
//
// and the reply carries success, count, vertices and edges, or error and
// error_kind (acl_violation, traversal_limit, invalid or query). Omitting
// groups runs the query unscoped.
package service
