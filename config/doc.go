// Package config loads the graphdb service configuration.
//
// Load starts from Default, overlays a JSON file and then GRAPHDB_* environment
// variables (caarlos0/env), and validates the result:
//
//	cfg, err := config.Load("graphdb.json")
//	if err != nil {
//		return err
//	}
//
// Nested sections map to nested prefixes, so store.neo4j.uri is overridden by
// GRAPHDB_STORE_NEO4J_URI and ingest.subjects by a comma-separated
// GRAPHDB_INGEST_SUBJECTS. Durations are written as Go duration strings
// ("30s") in both places.
//
// Config files are read through readConfigFile, which rejects relative paths
// escaping the working directory, non-JSON files, files over 10MB and JSON
// nested deeper than 100 levels. Config.String masks secrets.
package config
