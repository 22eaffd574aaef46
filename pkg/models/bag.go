package models

// Bag is the per-request union of all resolved data sources, keyed by
// source name (e.g. "application", "lender_configuration", "test").
// Property paths of the form "<source>.<field>[.<field>...]" are walked
// against it by the resolver.
type Bag map[string]Value

// Get returns the named source's payload, or (Null, false) if absent.
func (b Bag) Get(source string) (Value, bool) {
	v, ok := b[source]
	return v, ok
}
