package record

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrIncomplete   = errors.New("record: incomplete")
	ErrInvalidTable = errors.New("record: invalid table")
	ErrInvalidKey   = errors.New("record: invalid natural key")
	ErrPersistence  = errors.New("record: persistence failed")
)

// IncompleteError lists why a RawRecord was rejected.
type IncompleteError struct {
	Table    string
	Missing  []string
	Mistyped []string
}

func (e *IncompleteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s record incomplete", e.Table)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ","))
	}
	if len(e.Mistyped) > 0 {
		fmt.Fprintf(&b, ": mistyped %s", strings.Join(e.Mistyped, ","))
	}
	return b.String()
}

func (e *IncompleteError) Is(target error) bool { return target == ErrIncomplete }

// PersistenceError reports a batch that was not committed. No part of the
// batch was applied.
type PersistenceError struct {
	Table   string
	Records int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d record(s) to %s: %v", e.Records, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
