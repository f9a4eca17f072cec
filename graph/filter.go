package graph

// FilterOp selects how a Filter compares a property.
type FilterOp int

// Filter operators
const (
	// OpEquals keeps vertices whose property matches the value
	OpEquals FilterOp = iota
	// OpNotEquals keeps vertices lacking the property or not matching it
	OpNotEquals
	// OpIntersects keeps vertices whose property matches any of the values
	OpIntersects
)

// Filter is a property predicate applied by FindVertices and CountVertices.
type Filter struct {
	Name   string
	Op     FilterOp
	Values []Value
}

// Has matches vertices whose property name matches v.
func Has(name string, v Value) Filter {
	return Filter{Name: name, Op: OpEquals, Values: []Value{v}}
}

// HasNot matches vertices that do not carry name=v, including those without name.
func HasNot(name string, v Value) Filter {
	return Filter{Name: name, Op: OpNotEquals, Values: []Value{v}}
}

// HasAny matches vertices whose property name matches at least one of values.
func HasAny(name string, values ...Value) Filter {
	return Filter{Name: name, Op: OpIntersects, Values: values}
}

// Match evaluates the filter against a property bag.
func (f Filter) Match(props Properties) bool {
	got, ok := props.Get(f.Name)
	switch f.Op {
	case OpNotEquals:
		if !ok {
			return true
		}
		for _, want := range f.Values {
			if got.Matches(want) {
				return false
			}
		}
		return true
	default:
		if !ok {
			return false
		}
		for _, want := range f.Values {
			if got.Matches(want) {
				return true
			}
		}
		return false
	}
}

// MatchAll reports whether props satisfies every filter.
func MatchAll(props Properties, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(props) {
			return false
		}
	}
	return true
}
