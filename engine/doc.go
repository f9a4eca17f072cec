// Package engine is the caller-owned entry point to graphdb. An Engine holds
// the graph store, the bearer token provider and the components built on
// them, and exposes the three operations the surrounding handlers need:
//
//	Ingest    document + index + concept id  -> vertex, child vertices, edges
//	IndexACL  ACL document                   -> ACL vertex, Controls edges
//	Query     descriptor + caller groups     -> vertices, edges or a count
//
// # Lifecycle
//
// Nothing in the package is global. Callers construct one Engine per process
// (or per test), share it across goroutines and Close it on shutdown:
//
//	eng, err := engine.New(engine.Dependencies{
//		Store:   graph.NewLazyStore(openStore),
//		Token:   auth.NewCached(provider),
//		Logger:  logger,
//		Metrics: registry,
//	})
//	if err != nil {
//		return err
//	}
//	defer eng.Close(ctx)
//
//	res, err := eng.Ingest(ctx, doc, index, "C1200000001-PROV1")
//
// # Ingestion semantics
//
// Ingest compiles the index once per *schema.Index, interprets the document
// into a plan and applies it through the mutator. Every upsert is
// create-or-reuse, so a failed ingestion is completed by running it again.
// The returned status is "created" when the document vertex is new,
// "updated" when only children or edges were added, and "unchanged"
// otherwise.
//
// # Index validation
//
// ValidateIndex compiles an index and, given sample documents, reports
// entries that select nothing or fail to evaluate. The validate-index CLI
// command prints its result.
package engine
