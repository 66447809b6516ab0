package db

import (
	"fmt"
	"reflect"
	"strings"
)

// Temporal precision for time.Time columns
type Temporal string

const (
	TemporalTimestamp Temporal = "timestamp"
	TemporalDate      Temporal = "date"
)

// ColumnDef describes one column of a generated table
type ColumnDef struct {
	Name          string
	Type          reflect.Type
	SQLType       string // explicit type, overrides Type
	Size          int
	NotNull       bool
	Unique        bool
	PrimaryKey    bool
	AutoIncrement bool
	Temporal      Temporal
}

// ForeignKeyDef describes a foreign key constraint
type ForeignKeyDef struct {
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string
}

// TableDef describes a table for schema generation
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	PrimaryKey  []string
	ForeignKeys []ForeignKeyDef
}

// BuildCreateTable renders a CREATE TABLE IF NOT EXISTS statement
func BuildCreateTable(d Dialect, t TableDef) (string, error) {
	if t.Name == "" {
		return "", fmt.Errorf("table name cannot be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	inlinedKey := false
	for _, col := range t.Columns {
		parts = append(parts, d.ColumnDefinition(col))
		if col.AutoIncrement && d.InlinesIdentityKey() {
			inlinedKey = true
		}
	}

	if len(t.PrimaryKey) > 0 && !inlinedKey {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(t.PrimaryKey, ", ")))
	}

	for _, fk := range t.ForeignKeys {
		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
		if fk.OnDelete != "" {
			clause += " ON DELETE " + fk.OnDelete
		}
		parts = append(parts, clause)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", t.Name, strings.Join(parts, ",\n  ")), nil
}

// BuildDropTable renders a DROP TABLE IF EXISTS statement
func BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + table
}
