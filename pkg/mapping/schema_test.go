package mapping

import (
	"strings"
	"testing"

	"github.com/ammar0144/persist4go/pkg/db"
)

func TestTableDefsOrder(t *testing.T) {
	r := newTestRegistry(t)
	defs := r.TableDefs()

	pos := map[string]int{}
	for i, d := range defs {
		pos[d.Name] = i
	}
	if len(defs) != 5 {
		t.Fatalf("tables = %v", pos)
	}
	if pos["AUTHORS"] > pos["BOOK"] {
		t.Error("AUTHORS must be created before BOOK")
	}
	if pos["AUTHORS"] > pos["NOTE"] {
		t.Error("AUTHORS must be created before NOTE, which holds the one-to-many key")
	}
	if pos["BOOK_TAGS"] < pos["BOOK"] || pos["BOOK_TAGS"] < pos["TAG"] {
		t.Error("join table must follow both sides")
	}
}

func TestTableDefsColumns(t *testing.T) {
	r := newTestRegistry(t)
	byName := map[string]db.TableDef{}
	for _, d := range r.TableDefs() {
		byName[d.Name] = d
	}

	note := byName["NOTE"]
	if len(note.ForeignKeys) != 1 || note.ForeignKeys[0].RefTable != "AUTHORS" {
		t.Errorf("note foreign keys = %+v", note.ForeignKeys)
	}

	sql, err := db.BuildCreateTable(db.SQLite{}, byName["AUTHORS"])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "ID INTEGER PRIMARY KEY AUTOINCREMENT") || !strings.Contains(sql, "FULL_NAME VARCHAR(80) NOT NULL") {
		t.Errorf("authors ddl:\n%s", sql)
	}

	sql, err = db.BuildCreateTable(db.SQLite{}, byName["BOOK"])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "AUTHOR_ID INTEGER") || !strings.Contains(sql, "ID VARCHAR(255) NOT NULL") {
		t.Errorf("book ddl:\n%s", sql)
	}

	join := byName["BOOK_TAGS"]
	if len(join.PrimaryKey) != 2 || join.Columns[0].Name != "BOOK_ID" || join.Columns[1].Name != "TAG_ID" {
		t.Errorf("join table = %+v", join)
	}
}
