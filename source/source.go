// Package source holds the template producers raced by the resolver:
// Builtin (compiled in), Catalog (community templates in SQLite) and Remote
// (template repositories over HTTP).
//
// Each implements race.Producer[string, Template]. A producer that does not
// know a name returns an error wrapping race.ErrSkip.
package source

import (
	"fmt"

	"github.com/IvanBrykalov/coord/race"
)

// Kind says where a template came from.
type Kind string

const (
	KindBuiltin   Kind = "builtin"
	KindCommunity Kind = "community"
	KindRemote    Kind = "remote"
)

// Template is a named document with $variable placeholders.
type Template struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"type"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables,omitempty"`
	// Origin is the repository URL or catalog path the template was read from.
	Origin string `json:"origin,omitempty"`
}

// Producer is the producer type every source implements.
type Producer = race.Producer[string, Template]

func skip(src, name string) error {
	return fmt.Errorf("%s: %q: %w", src, name, race.ErrSkip)
}
