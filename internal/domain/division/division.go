// Package division models organizational access scopes.
//
// Every document belongs to exactly one division, derived from the first
// path segment under the documents root that names a known division code.
// A restricted caller only ever sees its own division; an unrestricted
// caller may pick any division or search across all of them.
package division

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// General is assigned to documents outside every known division folder.
const General = "GENERAL"

// All is the request keyword for an unscoped search.
const All = "all"

// DefaultCodes are the division folders recognized out of the box.
var DefaultCodes = []string{
	"DG", "DEL", "DRH", "DAF", "DSI", "DCOM", "DAJ", "DCOOP", "CENADI", "UPLOADS",
}

// Registry resolves division codes from file paths.
type Registry struct {
	codes map[string]struct{}
}

// NewRegistry builds a registry. Codes are matched case-insensitively.
// An empty list falls back to DefaultCodes.
func NewRegistry(codes []string) *Registry {
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	m := make(map[string]struct{}, len(codes)+1)
	for _, c := range codes {
		if c = Normalize(c); c != "" {
			m[c] = struct{}{}
		}
	}
	m[General] = struct{}{}
	return &Registry{codes: m}
}

// Known reports whether code is a registered division.
func (r *Registry) Known(code string) bool {
	_, ok := r.codes[Normalize(code)]
	return ok
}

// Codes returns the registered codes including General.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	return out
}

// FromPath returns the division owning path. Segments below root are checked
// first-to-last; the first known code wins.
func (r *Registry) FromPath(root, path string) string {
	rel := path
	if root != "" {
		if p, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(p, "..") {
			rel = p
		}
	}
	parts := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
	for _, part := range parts {
		code := Normalize(part)
		if code == General {
			continue
		}
		if _, ok := r.codes[code]; ok {
			return code
		}
	}
	return General
}

// Normalize upper-cases and trims a division code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Principal is the authenticated caller.
type Principal struct {
	Name         string
	Division     string
	Unrestricted bool
}

// Scope is the effective division filter of one request.
type Scope struct {
	// Division restricts results; empty means every division.
	Division string
	// Home is the caller's own division, preferred on score ties.
	Home string
}

// IsAll reports whether the scope spans every division.
func (s Scope) IsAll() bool { return s.Division == "" }

// Covers reports whether a page of the given division is visible in this scope.
func (s Scope) Covers(code string) bool {
	return s.IsAll() || s.Division == Normalize(code)
}

// Resolve computes the effective scope. A restricted principal is always
// pinned to its own division regardless of what it requested.
func Resolve(p Principal, requested string) (Scope, error) {
	home := Normalize(p.Division)
	if !p.Unrestricted {
		if home == "" {
			return Scope{}, fmt.Errorf("caller has no division: %w", domain.ErrForbidden)
		}
		return Scope{Division: home, Home: home}, nil
	}

	req := strings.TrimSpace(requested)
	if req == "" || strings.EqualFold(req, All) {
		return Scope{Home: home}, nil
	}
	return Scope{Division: Normalize(req), Home: home}, nil
}

// CanAccess reports whether p may read or modify documents of the given division.
func CanAccess(p Principal, code string) bool {
	if p.Unrestricted {
		return true
	}
	home := Normalize(p.Division)
	return home != "" && home == Normalize(code)
}
