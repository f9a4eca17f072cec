package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/errors"
)

const platformIndex = `{
  "Indexes": [
    {"Name": "ShortName", "Type": "graph", "Indexer": "property", "Field": ".ShortName"},
    {"Name": "Platform", "Type": "graph", "Indexer": "separate-node", "Field": ".Platforms",
     "Configuration": {"properties": ["ShortName", "Type"], "relationship": "AcquiredBy",
                       "relationshipProperties": ["Type"]}},
    {"Name": "Title", "Type": "search", "Indexer": "text", "Field": ".EntryTitle"}
  ]
}`

func TestParse(t *testing.T) {
	idx, err := Parse([]byte(platformIndex))
	require.NoError(t, err)
	require.Len(t, idx.Indexes, 3)
	assert.Len(t, idx.GraphEntries(), 2)

	platform := idx.Indexes[1]
	require.NotNil(t, platform.Configuration)
	assert.Equal(t, "AcquiredBy", platform.Configuration.Relationship)
	assert.Equal(t, "ShortName", platform.Configuration.Key())
	assert.Equal(t, []string{"Type"}, platform.Configuration.RelationshipProperties)
}

const platformIndexYAML = `
Indexes:
  - Name: ShortName
    Type: graph
    Indexer: property
    Field: .ShortName
  - Name: Platform
    Type: graph
    Indexer: separate-node
    Field: .Platforms
    Configuration:
      properties: [ShortName, Type]
      relationship: AcquiredBy
      relationshipProperties: [Type]
  - Name: Title
    Type: search
    Indexer: text
    Field: .EntryTitle
`

func TestParseYAMLMatchesJSON(t *testing.T) {
	fromJSON, err := Parse([]byte(platformIndex))
	require.NoError(t, err)
	fromYAML, err := ParseYAML([]byte(platformIndexYAML))
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Errorf("YAML index differs from JSON (-json +yaml):\n%s", diff)
	}
}

func TestParseYAMLRejects(t *testing.T) {
	_, err := ParseYAML([]byte("Indexes: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseBareArray(t *testing.T) {
	idx, err := Parse([]byte(`[{"Name":"ShortName","Type":"graph","Indexer":"property","Field":".ShortName"}]`))
	require.NoError(t, err)
	require.Len(t, idx.Indexes, 1)
	assert.Equal(t, "ShortName", idx.Indexes[0].Name)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing Indexes", `{}`},
		{"entry without Name", `[{"Type":"graph","Indexer":"property","Field":".x"}]`},
		{"wrong type for properties", `[{"Name":"P","Type":"graph","Indexer":"separate-node","Field":".p","Configuration":{"properties":"x","relationship":"r"}}]`},
		{"unknown indexer", `[{"Name":"P","Type":"graph","Indexer":"sideways","Field":".p"}]`},
		{"graph entry without Field", `[{"Name":"P","Type":"graph","Indexer":"property"}]`},
		{"separate-node without Configuration", `[{"Name":"P","Type":"graph","Indexer":"separate-node","Field":".p"}]`},
		{"separate-node without relationship", `[{"Name":"P","Type":"graph","Indexer":"separate-node","Field":".p","Configuration":{"properties":["a"]}}]`},
		{"separate-node without properties", `[{"Name":"P","Type":"graph","Indexer":"separate-node","Field":".p","Configuration":{"properties":[],"relationship":"r"}}]`},
		{"keyProperty not configured", `[{"Name":"P","Type":"graph","Indexer":"separate-node","Field":".p","Configuration":{"properties":["a"],"relationship":"r","keyProperty":"b"}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid classification, got %v", err)
		})
	}
}

func TestParseIgnoresNonGraphEntries(t *testing.T) {
	_, err := Parse([]byte(`[{"Name":"Title","Type":"search","Indexer":"whatever"}]`))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(platformIndex), 0o600))
	idx, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Len(t, idx.GraphEntries(), 2)

	yamlPath := filepath.Join(dir, "index.yaml")
	yamlDoc := `
Indexes:
  - Name: ShortName
    Type: graph
    Indexer: property
    Field: .ShortName
  - Name: Platform
    Type: graph
    Indexer: separate-node
    Field: .Platforms[]
    Configuration:
      properties: [ShortName, Type]
      relationship: AcquiredBy
      keyProperty: ShortName
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o600))
	idx, err = Load(yamlPath)
	require.NoError(t, err)
	require.Len(t, idx.Indexes, 2)
	assert.Equal(t, ".Platforms[]", idx.Indexes[1].Field)
	assert.Nil(t, idx.Indexes[1].Configuration.RelationshipProperties)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
