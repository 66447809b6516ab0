package db

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the SQL differences between supported databases.
// Both dialects use '?' placeholders, so statements are shared.
type Dialect interface {
	// Name returns the driver name
	Name() string

	// ColumnDefinition renders a column for CREATE TABLE, without foreign keys
	ColumnDefinition(col ColumnDef) string

	// InlinesIdentityKey reports whether an identity column carries its own
	// PRIMARY KEY clause, which must then be omitted at table level
	InlinesIdentityKey() bool

	// TranslateError maps driver errors onto package sentinel errors
	TranslateError(err error) error
}

var timeType = reflect.TypeOf(time.Time{})

// ============================================================================
// MySQL
// ============================================================================

// MySQL is the dialect for MySQL 8 / MariaDB
type MySQL struct{}

func (MySQL) Name() string { return DriverMySQL }

func (MySQL) InlinesIdentityKey() bool { return false }

func (MySQL) ColumnDefinition(col ColumnDef) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteString(" ")

	switch {
	case col.SQLType != "":
		b.WriteString(col.SQLType)
	case col.AutoIncrement:
		b.WriteString("BIGINT")
	default:
		b.WriteString(mysqlType(col))
	}

	if col.NotNull || col.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if col.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	if col.Unique && !col.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

func mysqlType(col ColumnDef) string {
	t := derefType(col.Type)
	if t == timeType {
		if col.Temporal == TemporalDate {
			return "DATE"
		}
		return "DATETIME(6)"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "TINYINT(1)"
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "INT"
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "BIGINT"
	case reflect.Float32, reflect.Float64:
		return "DOUBLE"
	case reflect.String:
		return fmt.Sprintf("VARCHAR(%d)", sizeOrDefault(col.Size))
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "LONGBLOB"
		}
	}
	return "TEXT"
}

// TranslateError maps MySQL constraint failures onto ErrConstraintViolation
func (MySQL) TranslateError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1048, 1062, 1216, 1217, 1364, 1451, 1452:
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case 1146:
			return fmt.Errorf("%w: %w", ErrNoSuchTable, err)
		}
	}
	return err
}

// ============================================================================
// SQLite
// ============================================================================

// SQLite is the dialect for the modernc pure-Go SQLite driver
type SQLite struct{}

func (SQLite) Name() string { return DriverSQLite }

func (SQLite) InlinesIdentityKey() bool { return true }

func (SQLite) ColumnDefinition(col ColumnDef) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteString(" ")

	// AUTOINCREMENT requires the exact INTEGER PRIMARY KEY form
	if col.AutoIncrement {
		b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		return b.String()
	}

	if col.SQLType != "" {
		b.WriteString(col.SQLType)
	} else {
		b.WriteString(sqliteType(col))
	}
	if col.NotNull || col.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if col.Unique && !col.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

// sqliteType picks declared types that keep modernc's time parsing working
func sqliteType(col ColumnDef) string {
	t := derefType(col.Type)
	if t == timeType {
		if col.Temporal == TemporalDate {
			return "DATE"
		}
		return "TIMESTAMP"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return fmt.Sprintf("VARCHAR(%d)", sizeOrDefault(col.Size))
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	return "TEXT"
}

// TranslateError maps SQLITE_CONSTRAINT codes onto ErrConstraintViolation
func (SQLite) TranslateError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		}
		if strings.Contains(se.Error(), "no such table") {
			return fmt.Errorf("%w: %w", ErrNoSuchTable, err)
		}
	}
	return err
}

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverMySQL, "":
		return MySQL{}, nil
	case DriverSQLite:
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func derefType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func sizeOrDefault(size int) int {
	if size <= 0 {
		return 255
	}
	return size
}
