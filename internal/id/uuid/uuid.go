// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings; v7 IDs sort by creation time, which
// keeps run output files and ledger entries in chronological order.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Short returns the first eight hex characters of id, for file names and
// seen_by tags.
func Short(id string) string {
	parsed, err := uuid.Parse(id)
	if err != nil {
		if len(id) > 8 {
			return id[:8]
		}
		return id
	}
	return parsed.String()[:8]
}
