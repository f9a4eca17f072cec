package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360/graphdb/acl"
	"github.com/c360/graphdb/engine"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/query"
	"github.com/c360/graphdb/schema"
)

// withApp builds an app for a one-shot command and closes it afterwards.
func withApp(ctx context.Context, opts *cliOptions, fn func(*app) error) error {
	a, err := newApp(opts.cfg, opts.logger, nil)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(a)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func newIngestCommand(opts *cliOptions) *cobra.Command {
	var conceptID, indexPath string

	cmd := &cobra.Command{
		Use:   "ingest <doc.json>",
		Short: "Ingest one metadata document",
		Example: `  graphdb ingest grid.json --concept-id G1200000001-PROV --index index.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc map[string]any
			if err := readJSONFile(args[0], &doc); err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				idx, err := a.loadIndex(indexPath)
				if err != nil {
					return err
				}
				res, err := a.engine.Ingest(cmd.Context(), doc, idx, conceptID)
				if err != nil {
					return err
				}
				return opts.printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&conceptID, "concept-id", "", "Concept id of the document (required)")
	cmd.Flags().StringVar(&indexPath, "index", "", "Index schema file (default: index.path)")
	_ = cmd.MarkFlagRequired("concept-id")
	return cmd
}

func newBootstrapCommand(opts *cliOptions) *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "bootstrap <search-results.json>",
		Short: "Ingest an array of search results in order",
		Long: `bootstrap reads a JSON array of {"meta": {"concept-id": ...}, "umm": {...}}
records and ingests them one by one. It stops at the first failure; the
results of the records before it are still printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			records, err := engine.ParseSearchResults(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				idx, err := a.loadIndex(indexPath)
				if err != nil {
					return err
				}
				results, ingestErr := a.engine.IngestBatch(cmd.Context(), records, idx)
				if err := opts.printJSON(results); err != nil {
					return err
				}
				return ingestErr
			})
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", "", "Index schema file (default: index.path)")
	return cmd
}

func newACLCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "acl <acl.json>",
		Short: "Index an ACL document and link it to the resources of its groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			doc, err := acl.ParseDocument(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := a.engine.IndexACL(cmd.Context(), doc)
				if err != nil {
					return err
				}
				return opts.printJSON(res)
			})
		},
	}
}

type queryFlags struct {
	op, label, property, value, edgeLabel, conceptID string
	from, toProperty, toValue                        string
	edgeFilter, groups                               []string
	maxHops                                          int
}

func (f *queryFlags) descriptor() query.Descriptor {
	d := query.Descriptor{
		Op:         query.Op(f.op),
		Label:      f.label,
		Property:   f.property,
		EdgeLabel:  f.edgeLabel,
		ConceptID:  f.conceptID,
		From:       f.from,
		EdgeFilter: f.edgeFilter,
		MaxHops:    f.maxHops,
	}
	if f.value != "" {
		d.Value = graph.StringValue(f.value)
	}
	if f.toProperty != "" {
		d.To = query.Matcher{Property: f.toProperty, Value: graph.StringValue(f.toValue)}
	}
	return d
}

func newQueryCommand(opts *cliOptions) *cobra.Command {
	f := &queryFlags{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query and print the result as JSON",
		Long: `query runs one operation: find, related, missing, count, count_related,
path, visible or visible_by_property. Passing --groups scopes the query to
what those groups may read; an explicit empty --groups= sees no governed
resources. Without --groups the query is unscoped.`,
		Example: `  graphdb query --op find --label Grid --groups g1,g2
  graphdb query --op path --from G1 --to-property ShortName --to-value NASA --max-hops 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc := f.descriptor()
			if err := desc.Validate(); err != nil {
				return err
			}
			var groups []string
			if cmd.Flags().Changed("groups") {
				groups = append([]string{}, f.groups...)
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := a.engine.Query(cmd.Context(), desc, groups)
				if err != nil {
					return err
				}
				return opts.printJSON(res)
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.op, "op", "", "Operation (required)")
	fl.StringVar(&f.label, "label", "", "Vertex label")
	fl.StringVar(&f.property, "property", "", "Property name for related, missing and visible_by_property")
	fl.StringVar(&f.value, "value", "", "Property value")
	fl.StringVar(&f.edgeLabel, "edge-label", "", "Edge label for related and count_related")
	fl.StringVar(&f.conceptID, "concept-id", "", "Concept id for count_related")
	fl.StringVar(&f.from, "from", "", "Start concept id for path")
	fl.StringVar(&f.toProperty, "to-property", "", "Target property for path")
	fl.StringVar(&f.toValue, "to-value", "", "Target value for path")
	fl.StringSliceVar(&f.edgeFilter, "edge-filter", nil, "Edge labels a path may follow")
	fl.IntVar(&f.maxHops, "max-hops", 0, "Path hop limit (default: query.max_hops)")
	fl.StringSliceVar(&f.groups, "groups", nil, "Caller groups")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func newValidateIndexCommand(opts *cliOptions) *cobra.Command {
	var samples []string

	cmd := &cobra.Command{
		Use:   "validate-index <index.json|index.yaml>",
		Short: "Load, validate and compile an index schema",
		Long: `validate-index checks an index schema and compiles its selectors. Each
--sample document is interpreted with it; entries that fail or never produce
output are reported. Exits non-zero when the report has errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := schema.Load(args[0])
			if err != nil {
				return err
			}
			docs := make([]map[string]any, len(samples))
			for i, path := range samples {
				if err := readJSONFile(path, &docs[i]); err != nil {
					return err
				}
			}
			res, err := engine.ValidateIndex(cmd.Context(), idx, docs...)
			if err != nil {
				return err
			}
			if err := opts.printJSON(res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("index %s has %d errors", args[0], len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&samples, "sample", nil, "Sample document to interpret (repeatable)")
	return cmd
}
