package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Scope represents API key permissions as a bitmask.
type Scope int

const (
	ScopeRead   Scope = 1 << iota // dashboards, status, data quality, events, stats, query
	ScopeImport                   // rescans and goal edits
	ScopeAdmin                    // key management; implies every other scope
)

var scopeNames = []struct {
	scope Scope
	name  string
}{
	{ScopeRead, "read"},
	{ScopeImport, "import"},
	{ScopeAdmin, "admin"},
}

// Has checks if the scope includes the required scope.
func (s Scope) Has(required Scope) bool {
	if s&ScopeAdmin != 0 {
		return true
	}
	return s&required == required
}

// String returns the comma-separated scope names.
func (s Scope) String() string {
	var names []string
	for _, n := range scopeNames {
		if s&n.scope != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseScopes parses a comma-separated scope string. Unknown names are an error.
func ParseScopes(s string) (Scope, error) {
	var scope Scope
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		found := false
		for _, n := range scopeNames {
			if n.name == part {
				scope |= n.scope
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownScope, part)
		}
	}
	return scope, nil
}

// Errors
var (
	ErrInvalidKey   = errors.New("invalid key")
	ErrKeyRevoked   = errors.New("key revoked")
	ErrKeyExpired   = errors.New("key expired")
	ErrKeyNotFound  = errors.New("key not found")
	ErrUnknownScope = errors.New("unknown scope")
)
