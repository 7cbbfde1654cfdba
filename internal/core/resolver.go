package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

// Reasons a plugin is left out of the load order
const (
	ReasonMissingDependency = "missing-dependency"
	ReasonDependencyCycle   = "dependency-cycle"
	ReasonDuplicateKind     = "duplicate-kind"
	ReasonLoadFailed        = "load-failed"
)

// Unresolved describes a plugin that will not be loaded
type Unresolved struct {
	Kind    string   `json:"kind"`
	Reason  string   `json:"reason"`
	Missing []string `json:"missing,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// Err converts the diagnostic into a coded error
func (u Unresolved) Err() error {
	switch u.Reason {
	case ReasonLoadFailed:
		return mverr.New(mverr.CodeInternal, "plugin %s failed to load: %s", u.Kind, u.Detail)
	case ReasonDuplicateKind:
		return mverr.New(mverr.CodeDependencyUnsatisfiable, "plugin %s is declared more than once", u.Kind)
	default:
		return mverr.New(mverr.CodeDependencyUnsatisfiable, "plugin %s cannot be resolved (%s: %s)",
			u.Kind, u.Reason, strings.Join(u.Missing, ", "))
	}
}

// Resolution is the outcome of ResolveLoadOrder
type Resolution struct {
	Order      []sdk.Metadata
	Unresolved []Unresolved
}

// Kinds returns the kinds of Order, in load order
func (r Resolution) Kinds() []string {
	kinds := make([]string, len(r.Order))
	for i, m := range r.Order {
		kinds[i] = m.Kind
	}
	return kinds
}

// ResolveLoadOrder orders entries so that every plugin comes after all of
// its dependencies. Kinds listed in loaded count as already resolved and do
// not appear in the output.
//
// Resolution is an iterative fixed point: kinds without dependencies come
// first, then each pass promotes every kind whose remaining dependencies
// have all been resolved. Kinds promoted in the same pass are ordered by
// name, so the result does not depend on scan order. Whatever is left when
// a pass promotes nothing is reported as unresolved.
func ResolveLoadOrder(entries []sdk.Metadata, loaded ...string) Resolution {
	var res Resolution

	resolved := make(map[string]bool, len(loaded))
	for _, kind := range loaded {
		resolved[kind] = true
	}

	byKind := make(map[string]sdk.Metadata, len(entries))
	pending := make(map[string][]string)
	for _, m := range entries {
		if _, dup := byKind[m.Kind]; dup || resolved[m.Kind] {
			if dup {
				res.Unresolved = append(res.Unresolved, Unresolved{Kind: m.Kind, Reason: ReasonDuplicateKind, Dir: m.Dir})
			}
			continue
		}
		byKind[m.Kind] = m
		pending[m.Kind] = append([]string(nil), m.Dependencies...)
	}

	for len(pending) > 0 {
		var promoted []string
		for kind, deps := range pending {
			remaining := deps[:0]
			for _, dep := range deps {
				if !resolved[dep] {
					remaining = append(remaining, dep)
				}
			}
			pending[kind] = remaining
			if len(remaining) == 0 {
				promoted = append(promoted, kind)
			}
		}
		if len(promoted) == 0 {
			break
		}

		sort.Strings(promoted)
		for _, kind := range promoted {
			res.Order = append(res.Order, byKind[kind])
			delete(pending, kind)
		}
		// Resolve after the whole pass so promotion order is level by level
		for _, kind := range promoted {
			resolved[kind] = true
		}
	}

	res.Unresolved = append(res.Unresolved, classify(pending, byKind)...)
	return res
}

// classify splits the kinds left pending into those blocked by an absent
// kind, directly or through another blocked kind, and those stuck in a cycle.
func classify(pending map[string][]string, byKind map[string]sdk.Metadata) []Unresolved {
	missing := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for kind, deps := range pending {
			if missing[kind] {
				continue
			}
			for _, dep := range deps {
				if _, present := byKind[dep]; !present || missing[dep] {
					missing[kind] = true
					changed = true
					break
				}
			}
		}
	}

	kinds := make([]string, 0, len(pending))
	for kind := range pending {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	out := make([]Unresolved, 0, len(kinds))
	for _, kind := range kinds {
		u := Unresolved{Kind: kind, Reason: ReasonDependencyCycle, Dir: byKind[kind].Dir}
		deps := append([]string(nil), pending[kind]...)
		sort.Strings(deps)
		if missing[kind] {
			u.Reason = ReasonMissingDependency
		}
		u.Missing = deps
		out = append(out, u)
	}
	return out
}

// String renders the resolution for the CLI
func (r Resolution) String() string {
	var b strings.Builder
	for i, m := range r.Order {
		fmt.Fprintf(&b, "%3d. %s %s (%s)\n", i+1, m.Kind, m.Version, m.Type)
	}
	for _, u := range r.Unresolved {
		fmt.Fprintf(&b, "  x  %s: %s", u.Kind, u.Reason)
		if len(u.Missing) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(u.Missing, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
