// Package column resolves template variables into per-domain column sets.
//
// A Domain describes one data source (recipient profile, enrollment,
// screening) by its catalog of known column names and the subset of those
// that are derived rather than read verbatim. A Set is an immutable selection
// of columns within one Domain. Unknown names are never an error: they simply
// never appear in any query result.
package column

import "slices"

// Domain is the fixed column vocabulary of one data source.
type Domain struct {
	name    string
	catalog []string
	derived map[string]struct{}
	storage map[string][]string
}

// NewDomain builds a Domain. catalog order is significant: sets built with
// FromTemplateVariables list their columns in catalog order.
func NewDomain(name string, catalog, derived []string) *Domain {
	d := &Domain{
		name:    name,
		catalog: slices.Clone(catalog),
		derived: make(map[string]struct{}, len(derived)),
	}
	for _, c := range derived {
		d.derived[c] = struct{}{}
	}
	return d
}

// withStorage attaches virtual → storage column expansions. Columns without
// an entry map to a storage column of the same name.
func (d *Domain) withStorage(m map[string][]string) *Domain {
	d.storage = m
	return d
}

// Name reports the domain name, e.g. "recipient".
func (d *Domain) Name() string { return d.name }

// Catalog returns a copy of the known column names in catalog order.
func (d *Domain) Catalog() []string { return slices.Clone(d.catalog) }

// Knows reports whether name is in the catalog.
func (d *Domain) Knows(name string) bool { return slices.Contains(d.catalog, name) }

// IsDerived reports whether name is computed rather than passed through.
func (d *Domain) IsDerived(name string) bool {
	_, ok := d.derived[name]
	return ok
}

// Empty returns a Set with no columns.
func (d *Domain) Empty() Set { return Set{domain: d} }

// FromTemplateVariables intersects vars with the catalog. The result follows
// catalog order, not the order of vars, and holds each column once.
func (d *Domain) FromTemplateVariables(vars []string) Set {
	want := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		want[v] = struct{}{}
	}
	var names []string
	for _, c := range d.catalog {
		if _, ok := want[c]; ok {
			names = append(names, c)
		}
	}
	return Set{domain: d, names: names}
}

// ─── SET ──────────────────────────────────────────────────────────────────────

// Set is an immutable list of requested columns within one Domain.
type Set struct {
	domain *Domain
	names  []string
}

// NewSet builds a Set from an explicit list. Names outside the catalog are
// kept: they are harmless, since lookups on them yield nothing.
func NewSet(d *Domain, names ...string) Set {
	return Set{domain: d, names: slices.Clone(names)}
}

// Domain returns the domain the set belongs to.
func (s Set) Domain() *Domain { return s.domain }

// IsEmpty reports whether no column was requested.
func (s Set) IsEmpty() bool { return len(s.names) == 0 }

// Has reports whether name was requested, derived or not.
func (s Set) Has(name string) bool { return slices.Contains(s.names, name) }

// AllColumns returns a copy of every requested column.
func (s Set) AllColumns() []string { return slices.Clone(s.names) }

// StandardColumns returns the requested columns that are read verbatim,
// in request order.
func (s Set) StandardColumns() []string {
	var out []string
	for _, n := range s.names {
		if s.domain == nil || !s.domain.IsDerived(n) {
			out = append(out, n)
		}
	}
	return out
}

// DerivedColumns returns the requested columns that are computed.
func (s Set) DerivedColumns() []string {
	var out []string
	for _, n := range s.names {
		if s.domain != nil && s.domain.IsDerived(n) {
			out = append(out, n)
		}
	}
	return out
}

// StorageColumns maps the requested columns to the storage columns that back
// them. Duplicates are dropped; the first occurrence wins.
func (s Set) StorageColumns() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, n := range s.names {
		if s.domain != nil {
			if expanded, ok := s.domain.storage[n]; ok {
				for _, c := range expanded {
					add(c)
				}
				continue
			}
		}
		add(n)
	}
	return out
}
