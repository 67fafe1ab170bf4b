// Package registry is the static table of upstream queries: where each one
// lives, what the caller must supply, and how to read its result.
package registry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// CodeField is the payload key carrying an instrument code.
const CodeField = "stk_cd"

// Descriptor describes one upstream query. Descriptors are never mutated
// after the registry is built.
type Descriptor struct {
	QueryID        string
	Alias          string
	Title          string
	Path           string
	Method         string
	RequiredFields []string
	Result         Selector

	// WriteThrough marks the instrument-list query whose result replaces
	// the local instrument table.
	WriteThrough bool
}

// Missing returns the required fields absent from payload, in declaration
// order. Nil values and blank strings count as absent.
func (d *Descriptor) Missing(payload map[string]any) []string {
	var missing []string
	for _, f := range d.RequiredFields {
		v, ok := payload[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// TakesCode reports whether the query is keyed by an instrument code, which
// callers may supply as a name instead.
func (d *Descriptor) TakesCode() bool {
	for _, f := range d.RequiredFields {
		if f == CodeField {
			return true
		}
	}
	return false
}

// Registry indexes descriptors by query id and alias.
type Registry struct {
	order []*Descriptor
	index map[string]*Descriptor
}

// New validates and indexes descriptors. Ids and aliases share one
// namespace and must be unique.
func New(descs []Descriptor) (*Registry, error) {
	r := &Registry{index: make(map[string]*Descriptor, len(descs)*2)}
	for i := range descs {
		d := descs[i]
		if d.QueryID == "" || d.Path == "" {
			return nil, fmt.Errorf("registry: descriptor %d: query id and path are required", i)
		}
		if d.Method == "" {
			d.Method = http.MethodPost
		}
		if d.Result == nil {
			d.Result = Whole()
		}
		d.RequiredFields = append([]string(nil), d.RequiredFields...)
		for _, key := range []string{d.QueryID, d.Alias} {
			if key == "" {
				continue
			}
			if _, dup := r.index[key]; dup {
				return nil, fmt.Errorf("registry: duplicate name %q", key)
			}
			r.index[key] = &d
		}
		r.order = append(r.order, &d)
	}
	return r, nil
}

// Lookup finds a descriptor by query id or alias.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.index[name]
	return d, ok
}

// WriteThrough returns the instrument-list descriptor, if registered.
func (r *Registry) WriteThrough() (*Descriptor, bool) {
	for _, d := range r.order {
		if d.WriteThrough {
			return d, true
		}
	}
	return nil, false
}

// All returns descriptors sorted by query id.
func (r *Registry) All() []*Descriptor {
	out := append([]*Descriptor(nil), r.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

// Len returns the number of registered queries.
func (r *Registry) Len() int { return len(r.order) }
