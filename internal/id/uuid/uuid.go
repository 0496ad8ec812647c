// Package uuid generates row IDs for every store.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements ingest.IDGenerator with time-ordered UUIDv7 strings, so row IDs sort by
// creation time in both stores.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
