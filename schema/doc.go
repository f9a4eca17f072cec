// Package schema loads index schemas and interprets documents against them.
//
// An index schema is an ordered list of entries. Entries with Type "graph"
// select a document field with a jq expression (Field) and either store the
// result as a property of the document vertex (Indexer "property") or turn
// each selected object into a child vertex joined to the document vertex by a
// relationship edge (Indexer "separate-node"):
//
//	{
//	  "Indexes": [
//	    {"Name": "ShortName", "Type": "graph", "Indexer": "property", "Field": ".ShortName"},
//	    {"Name": "Platform", "Type": "graph", "Indexer": "separate-node", "Field": ".Platforms",
//	     "Configuration": {"properties": ["ShortName", "Type"], "relationship": "AcquiredBy",
//	                       "relationshipProperties": ["Type"], "keyProperty": "ShortName"}}
//	  ]
//	}
//
// Child vertices are deduplicated on keyProperty. When keyProperty is not set
// the first configured property is used, which matches indexes written before
// keyProperty existed.
//
// The document vertex label always comes from MetadataSpecification.Name.
// Selectors that yield null contribute nothing. Compile parses every selector
// once; Interpret is then safe to call from many goroutines.
package schema
