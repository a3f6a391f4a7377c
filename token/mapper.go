package token

import "fmt"

// Mapper transforms a single claim's raw value into its mapped form. A
// mapper that returns an error is a ClaimMappingFailed fatal (spec.md §4.6).
type Mapper interface {
	// ClaimName is the claim this mapper handles.
	ClaimName() string
	// Enabled reports whether this mapper currently applies.
	Enabled() bool
	// Map transforms raw into the claim's mapped ClaimValue.
	Map(raw ClaimValue) (ClaimValue, error)
}

// MapperFunc adapts a plain function into a Mapper with a fixed claim name,
// always enabled.
type MapperFunc struct {
	Name string
	Fn   func(ClaimValue) (ClaimValue, error)
}

func (m MapperFunc) ClaimName() string { return m.Name }
func (m MapperFunc) Enabled() bool     { return true }
func (m MapperFunc) Map(raw ClaimValue) (ClaimValue, error) { return m.Fn(raw) }

// Registry is the process-wide registry of (claim_name → mapper) pairs
// described in spec.md §4.7. Unlike a per-issuer setting, it is shared by
// every issuer in the engine.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry builds a Registry from a set of mappers. Initialization fails
// when two enabled mappers share a claim name.
func NewRegistry(mappers ...Mapper) (*Registry, error) {
	r := &Registry{mappers: make(map[string]Mapper, len(mappers))}
	for _, m := range mappers {
		if !m.Enabled() {
			continue
		}
		if _, exists := r.mappers[m.ClaimName()]; exists {
			return nil, fmt.Errorf("duplicate enabled claim mapper for claim %q", m.ClaimName())
		}
		r.mappers[m.ClaimName()] = m
	}
	return r, nil
}

// Lookup returns the mapper registered for name, if any.
func (r *Registry) Lookup(name string) (Mapper, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r.mappers[name]
	return m, ok
}

// Apply runs every registered mapper over claims in place, replacing each
// mapped claim's value with the mapper's output. The first mapper error
// aborts and is returned wrapped with the claim name; the caller wraps it
// as ClaimMappingFailed.
func (r *Registry) Apply(claims ClaimMap) error {
	if r == nil {
		return nil
	}
	for name, mapper := range r.mappers {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		mapped, err := mapper.Map(raw)
		if err != nil {
			return fmt.Errorf("claim mapper for %q failed: %w", name, err)
		}
		claims[name] = mapped
	}
	return nil
}
