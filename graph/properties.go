package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Property is a single named value.
type Property struct {
	Name  string
	Value Value
}

// P builds a Property.
func P(name string, v Value) Property { return Property{Name: name, Value: v} }

// Properties is an ordered property bag. Names are unique; Set keeps the
// position of an existing name.
type Properties []Property

// Get returns the value stored under name.
func (p Properties) Get(name string) (Value, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether name is present.
func (p Properties) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Set stores v under name, overwriting in place when present.
func (p *Properties) Set(name string, v Value) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = v
			return
		}
	}
	*p = append(*p, Property{Name: name, Value: v})
}

// Names returns property names in order.
func (p Properties) Names() []string {
	names := make([]string, len(p))
	for i, prop := range p {
		names[i] = prop.Name
	}
	return names
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for i, prop := range p {
		out[i] = Property{Name: prop.Name, Value: prop.Value}
		if prop.Value.kind == KindStringList {
			out[i].Value = ListValue(prop.Value.list...)
		}
	}
	return out
}

// Merge returns a copy of p with every property of other set on top.
func (p Properties) Merge(other Properties) Properties {
	out := p.Clone()
	for _, prop := range other {
		out.Set(prop.Name, prop.Value)
	}
	return out
}

// Map returns the properties as plain Go values, for drivers that take maps.
func (p Properties) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, prop := range p {
		m[prop.Name] = prop.Value.Any()
	}
	return m
}

// MarshalJSON encodes the bag as a JSON object in property order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		val, err := prop.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties: expected object, got %v", tok)
	}

	out := Properties{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("properties: expected key, got %v", keyTok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("properties: %s: %w", key, err)
		}
		if v.IsValid() {
			out.Set(key, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}
