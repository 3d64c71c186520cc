package repositories

import (
	"oidcprovider/internal/domain/scope"
)

// scanner is satisfied by both pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// toSet converts a text[] column into a scope set, dropping values no longer supported
func toSet(values []string) scope.Set {
	set, _ := scope.FromStrings(values)
	return set
}
