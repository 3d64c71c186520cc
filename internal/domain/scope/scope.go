package scope

import (
	"slices"
	"strings"

	"oidcprovider/internal/lib/utilities"
)

// Scope is a named permission unit a client can request
type Scope string

const (
	OpenID        Scope = "openid"
	Email         Scope = "email"
	Profile       Scope = "profile"
	OfflineAccess Scope = "offline_access"
	GameData      Scope = "game_data"
	Achievements  Scope = "achievements"
	UserID        Scope = "user_id"
	ModTools      Scope = "modtools"
)

// Supported lists every scope the provider understands, in canonical order
var Supported = []Scope{
	OpenID,
	Email,
	Profile,
	OfflineAccess,
	GameData,
	Achievements,
	UserID,
	ModTools,
}

// Parse returns the Scope named by s, false if the name is unknown
func Parse(s string) (Scope, bool) {
	for _, sc := range Supported {
		if string(sc) == s {
			return sc, true
		}
	}
	return "", false
}

func rank(s Scope) int {
	return slices.Index(Supported, s)
}

// Set is an ordered, duplicate-free collection of known scopes.
// The zero value is an empty set.
type Set []Scope

// NewSet builds a canonical set from the given scopes, dropping duplicates and unknown values
func NewSet(scopes ...Scope) Set {
	out := make(Set, 0, len(scopes))
	for _, s := range scopes {
		if rank(s) < 0 || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Scope) int { return rank(a) - rank(b) })
	return out
}

// ParseSet splits a space separated scope parameter.
// Known values are returned as a set, unknown values separately so callers can decide whether to reject them.
func ParseSet(raw string) (Set, []string) {
	return FromStrings(strings.Fields(raw))
}

// FromStrings converts stored or requested scope names into a set
func FromStrings(values []string) (Set, []string) {
	var (
		known   []Scope
		unknown []string
	)
	for _, v := range values {
		if s, ok := Parse(v); ok {
			known = append(known, s)
			continue
		}
		unknown = append(unknown, v)
	}
	return NewSet(known...), unknown
}

// Has reports whether s contains sc
func (s Set) Has(sc Scope) bool {
	return slices.Contains(s, sc)
}

// Empty reports whether the set holds no scopes
func (s Set) Empty() bool {
	return len(s) == 0
}

// Union returns every scope present in s or other
func (s Set) Union(other Set) Set {
	merged := make([]Scope, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewSet(merged...)
}

// Intersect returns the scopes present in both s and other
func (s Set) Intersect(other Set) Set {
	out := make(Set, 0, len(s))
	for _, sc := range s {
		if other.Has(sc) {
			out = append(out, sc)
		}
	}
	return NewSet(out...)
}

// Without returns s with every scope of other removed
func (s Set) Without(other Set) Set {
	out := make(Set, 0, len(s))
	for _, sc := range s {
		if !other.Has(sc) {
			out = append(out, sc)
		}
	}
	return out
}

// SubsetOf reports whether every scope of s is also in other. The empty set is a subset of anything.
func (s Set) SubsetOf(other Set) bool {
	for _, sc := range s {
		if !other.Has(sc) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets contain the same scopes
func (s Set) Equal(other Set) bool {
	return s.SubsetOf(other) && other.SubsetOf(s)
}

// Strings returns the scope names, used for storage and JSON
func (s Set) Strings() []string {
	return utilities.Map(s, func(sc Scope) string { return string(sc) })
}

// String renders the set as an OAuth scope parameter
func (s Set) String() string {
	return strings.Join(s.Strings(), " ")
}
