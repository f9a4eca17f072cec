package acl

import (
	"encoding/json"
	"fmt"

	"github.com/c360/graphdb/errors"
)

// GroupPermission grants permissions to one group.
type GroupPermission struct {
	GroupID     string   `json:"group_id"`
	Permissions []string `json:"permissions"`
}

// Document is an access-control list as delivered for indexing.
type Document struct {
	GroupPermissions []GroupPermission `json:"group_permissions"`
	LegacyGUID       string            `json:"legacy_guid,omitempty"`
	ConceptID        string            `json:"conceptId"`
}

// ParseDocument decodes and validates an ACL document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "acl", "ParseDocument", "decode ACL document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the fields indexing depends on.
func (d *Document) Validate() error {
	if d.ConceptID == "" {
		return errors.WrapInvalid(fmt.Errorf("conceptId is required"),
			"acl", "Validate", "validate ACL document")
	}
	for i, gp := range d.GroupPermissions {
		if gp.GroupID == "" {
			return errors.WrapInvalid(fmt.Errorf("group_permissions[%d]: group_id is required", i),
				"acl", "Validate", "validate ACL document")
		}
	}
	return nil
}

// Members returns the group identifiers in document order.
func (d *Document) Members() []string {
	out := make([]string, len(d.GroupPermissions))
	for i, gp := range d.GroupPermissions {
		out[i] = gp.GroupID
	}
	return out
}

// Permissions returns the permission lists aligned with Members.
func (d *Document) Permissions() [][]string {
	out := make([][]string, len(d.GroupPermissions))
	for i, gp := range d.GroupPermissions {
		out[i] = gp.Permissions
	}
	return out
}
