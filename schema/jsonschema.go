package schema

import (
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const indexSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["Indexes"],
  "properties": {
    "Indexes": {
      "type": "array",
      "items": {"$ref": "#/definitions/entry"}
    }
  },
  "definitions": {
    "entry": {
      "type": "object",
      "required": ["Name", "Type"],
      "properties": {
        "Name": {"type": "string", "minLength": 1},
        "Type": {"type": "string"},
        "Indexer": {"type": "string"},
        "Field": {"type": "string"},
        "Description": {"type": "string"},
        "Configuration": {
          "type": "object",
          "properties": {
            "properties": {"type": "array", "items": {"type": "string", "minLength": 1}},
            "relationship": {"type": "string"},
            "relationshipProperties": {"type": "array", "items": {"type": "string", "minLength": 1}},
            "keyProperty": {"type": "string"}
          }
        }
      }
    }
  }
}`

var (
	compiledSchema     *gojsonschema.Schema
	compiledSchemaOnce sync.Once
)

// indexSchema returns the compiled JSON schema for index documents.
// The schema is a constant, so a compile failure is a programming error.
func indexSchema() *gojsonschema.Schema {
	compiledSchemaOnce.Do(func() {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(indexSchemaJSON))
		if err != nil {
			panic("schema: invalid embedded index schema: " + err.Error())
		}
		compiledSchema = s
	})
	return compiledSchema
}
