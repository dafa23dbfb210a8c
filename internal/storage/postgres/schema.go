package postgres

import (
	"fmt"
	"strings"

	"github.com/CMoncur/proto-scrape/internal/record"
)

var columnTypes = map[record.Kind]string{
	record.String: "VARCHAR(200)",
	record.Text:   "TEXT",
	record.Int:    "BIGINT",
	record.Float:  "DOUBLE PRECISION",
	record.Time:   "TIMESTAMPTZ",
}

// CreateTableSQL renders DDL for table with a unique constraint on key. The
// statement is idempotent.
func CreateTableSQL(table record.Table, key record.NaturalKey) (string, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	if err := table.ValidateKey(key); err != nil {
		return "", err
	}
	lines := []string{
		fmt.Sprintf("\t%s BIGSERIAL PRIMARY KEY", quoteIdent(record.IDColumn)),
		fmt.Sprintf("\t%s TIMESTAMPTZ NOT NULL DEFAULT now()", quoteIdent(record.CreatedColumn)),
	}
	for _, c := range table.Columns {
		line := fmt.Sprintf("\t%s %s", quoteIdent(c.Name), columnTypes[c.Kind])
		if c.Required {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	keyCols := make([]string, len(key))
	for i, k := range key {
		keyCols[i] = quoteIdent(k)
	}
	lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s UNIQUE (%s)",
		quoteIdent(table.Name+"_natural_key"), strings.Join(keyCols, ", ")))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);\n",
		quoteIdent(table.Name), strings.Join(lines, ",\n")), nil
}
