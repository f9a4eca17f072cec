package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/graphdb/errors"
)

// Entry types and indexer kinds
const (
	TypeGraph = "graph"

	IndexerProperty     = "property"
	IndexerSeparateNode = "separate-node"
)

// maxIndexSize bounds index files read from disk.
const maxIndexSize = 1024 * 1024

// Index is an ordered list of index entries.
type Index struct {
	Indexes []Entry `json:"Indexes"`
}

// Entry maps one document field selector to a property or to child vertices.
type Entry struct {
	Name          string         `json:"Name"`
	Type          string         `json:"Type"`
	Indexer       string         `json:"Indexer,omitempty"`
	Field         string         `json:"Field,omitempty"`
	Description   string         `json:"Description,omitempty"`
	Configuration *Configuration `json:"Configuration,omitempty"`
}

// Configuration describes the child vertex built by a separate-node entry.
type Configuration struct {
	// Properties lists the keys copied from each selected object.
	Properties []string `json:"properties"`
	// Relationship labels the edge joining child and document vertex.
	Relationship string `json:"relationship"`
	// RelationshipProperties lists keys copied onto that edge. Nil means the
	// edge carries no properties.
	RelationshipProperties []string `json:"relationshipProperties,omitempty"`
	// KeyProperty names the child's identity property. Defaults to the
	// first entry of Properties.
	KeyProperty string `json:"keyProperty,omitempty"`
}

// Key returns the configured identity property of the child vertex.
func (c *Configuration) Key() string {
	if c.KeyProperty != "" {
		return c.KeyProperty
	}
	if len(c.Properties) > 0 {
		return c.Properties[0]
	}
	return ""
}

// Digest identifies the index by content. Equal indexes share a digest
// whatever their origin.
func (idx *Index) Digest() string {
	data, _ := json.Marshal(idx)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsGraph reports whether the entry participates in graph indexing.
func (e Entry) IsGraph() bool { return e.Type == TypeGraph }

// GraphEntries returns the entries with Type "graph", in order.
func (idx *Index) GraphEntries() []Entry {
	out := make([]Entry, 0, len(idx.Indexes))
	for _, e := range idx.Indexes {
		if e.IsGraph() {
			out = append(out, e)
		}
	}
	return out
}

// Load reads an index file. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON.
func Load(path string) (*Index, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "Load", "stat index file")
	}
	if info.Size() > maxIndexSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("index file too large: %d bytes (max %d)", info.Size(), maxIndexSize),
			"Schema", "Load", "check file size")
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "Load", "read index file")
	}

	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// ParseYAML parses a YAML index document.
func ParseYAML(data []byte) (*Index, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "ParseYAML", "decode yaml")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "ParseYAML", "convert yaml")
	}
	return Parse(asJSON)
}

// Parse parses a JSON index document. Both {"Indexes": [...]} and a bare
// array of entries are accepted.
func Parse(data []byte) (*Index, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		trimmed = append(append([]byte(`{"Indexes":`), trimmed...), '}')
	}

	if err := validateShape(trimmed); err != nil {
		return nil, err
	}

	var idx Index
	if err := json.Unmarshal(trimmed, &idx); err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "Parse", "decode index")
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}

func validateShape(data []byte) error {
	result, err := indexSchema().Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Schema", "Parse", "decode index")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(msgs, "; ")),
		"Schema", "Parse", "validate index shape")
}

// Validate checks the rules the JSON schema cannot express. Entries whose
// Type is not "graph" are not checked.
func (idx *Index) Validate() error {
	for i, e := range idx.Indexes {
		if !e.IsGraph() {
			continue
		}
		if err := e.validate(); err != nil {
			return errors.WrapInvalid(fmt.Errorf("entry %d (%s): %w", i, e.Name, err),
				"Schema", "Validate", "check entry")
		}
	}
	return nil
}

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("missing Name")
	}
	if e.Field == "" {
		return fmt.Errorf("missing Field")
	}

	switch e.Indexer {
	case IndexerProperty:
		return nil
	case IndexerSeparateNode:
	default:
		return fmt.Errorf("unknown Indexer %q", e.Indexer)
	}

	c := e.Configuration
	if c == nil {
		return fmt.Errorf("separate-node entry requires Configuration")
	}
	if c.Relationship == "" {
		return fmt.Errorf("separate-node entry requires a relationship")
	}
	if len(c.Properties) == 0 {
		return fmt.Errorf("separate-node entry requires at least one property")
	}
	if c.KeyProperty != "" && !contains(c.Properties, c.KeyProperty) {
		return fmt.Errorf("keyProperty %q is not one of the configured properties", c.KeyProperty)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
