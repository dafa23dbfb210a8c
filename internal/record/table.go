package record

import (
	"fmt"
	"regexp"
)

// Kind is the expected type of a column value.
type Kind string

// Supported column kinds.
const (
	String Kind = "string"
	Text   Kind = "text"
	Int    Kind = "int"
	Float  Kind = "float"
	Time   Kind = "time"
)

// Columns managed by the store rather than by extractors.
const (
	IDColumn      = "id"
	CreatedColumn = "created"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a table or column name.
func ValidIdentifier(name string) bool { return validIdentifier.MatchString(name) }

// Column describes one extractor-supplied column.
type Column struct {
	Name     string
	Kind     Kind
	Required bool
}

// Table is the destination contract an adapter declares.
type Table struct {
	Name    string
	Columns []Column
}

// NaturalKey lists the columns whose combined value identifies a record.
type NaturalKey []string

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the table definition itself.
func (t Table) Validate() error {
	if !ValidIdentifier(t.Name) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidTable, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", ErrInvalidTable, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if !ValidIdentifier(c.Name) {
			return fmt.Errorf("%w: invalid column name %q", ErrInvalidTable, c.Name)
		}
		if c.Name == IDColumn || c.Name == CreatedColumn {
			return fmt.Errorf("%w: column %q is store-managed", ErrInvalidTable, c.Name)
		}
		switch c.Kind {
		case String, Text, Int, Float, Time:
		default:
			return fmt.Errorf("%w: column %s has unknown kind %q", ErrInvalidTable, c.Name, c.Kind)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidTable, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// ValidateKey checks that key names required columns of t.
func (t Table) ValidateKey(key NaturalKey) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty natural key for %s", ErrInvalidKey, t.Name)
	}
	seen := make(map[string]struct{}, len(key))
	for _, name := range key {
		col, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("%w: %s is not a column of %s", ErrInvalidKey, name, t.Name)
		}
		if !col.Required {
			return fmt.Errorf("%w: key column %s must be required", ErrInvalidKey, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate key column %s", ErrInvalidKey, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// NonKeyColumns returns the columns of t that are not part of key.
func (t Table) NonKeyColumns(key NaturalKey) []string {
	inKey := make(map[string]struct{}, len(key))
	for _, k := range key {
		inKey[k] = struct{}{}
	}
	var out []string
	for _, c := range t.Columns {
		if _, ok := inKey[c.Name]; !ok {
			out = append(out, c.Name)
		}
	}
	return out
}
