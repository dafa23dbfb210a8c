// Package uuid generates run and request identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Timestamp recovers the creation time embedded in a v7 id.
func Timestamp(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("id %s is version %d, not 7", id, parsed.Version())
	}
	var ms int64
	for _, b := range parsed[:6] {
		ms = ms<<8 | int64(b)
	}
	return time.UnixMilli(ms).UTC(), nil
}
