package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/ammar0144/persist4go/pkg/db"
)

type Author struct {
	ID        int64     `orm:"id;generated:identity"`
	FullName  string    `orm:"column:FULL_NAME;size:80;notNull"`
	Born      time.Time `orm:"temporal:date"`
	UpdatedAt *time.Time
	Scratch   string    `orm:"-"`
	Books     Set[Book] `orm:"oneToMany;mappedBy:author;cascade:remove,persist"`
	Notes     Set[Note] `orm:"oneToMany"`
	internal  int
}

func (Author) TableName() string { return "AUTHORS" }
func (Author) Cacheable() bool   { return true }
func (Author) NamedQueries() map[string]string {
	return map[string]string{"authorByName": "FROM Author a WHERE a.fullName = :name"}
}

type Book struct {
	ID     string `orm:"id;generated:uuid"`
	Title  string
	Author Ref[Author] `orm:"manyToOne;fetch:lazy"`
	Tags   Set[Tag]    `orm:"manyToMany;joinTable:BOOK_TAGS"`
}

type Tag struct {
	ID    int64     `orm:"generated:table"`
	Label string    `orm:"unique"`
	Books Set[Book] `orm:"manyToMany;mappedBy:tags"`
}

type Note struct {
	ID   int64
	Text string
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(&Author{}, Book{}, &Tag{}, &Note{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryParsesFields(t *testing.T) {
	r := newTestRegistry(t)

	a, err := EntityOf[Author](r)
	if err != nil {
		t.Fatal(err)
	}
	if a.Table != "AUTHORS" || !a.Cacheable || a.Generation != GenerateIdentity {
		t.Errorf("author meta = table %s cacheable %v generation %s", a.Table, a.Cacheable, a.Generation)
	}
	if a.ID == nil || a.ID.Column != "ID" || a.ID.Property != "id" {
		t.Fatalf("author id = %+v", a.ID)
	}

	name := a.Field("fullName")
	if name == nil || name.Column != "FULL_NAME" || name.Size != 80 || !name.NotNull {
		t.Errorf("fullName = %+v", name)
	}
	if f := a.Field("born"); f == nil || f.Temporal != db.TemporalDate {
		t.Errorf("born = %+v", f)
	}
	if f := a.Field("updatedAt"); f == nil || f.Column != "UPDATED_AT" || f.Temporal != db.TemporalTimestamp {
		t.Errorf("updatedAt = %+v", f)
	}
	if a.Field("scratch") != nil || a.Field("internal") != nil {
		t.Error("transient and unexported fields must not be mapped")
	}
	if got := a.Columns(); len(got) != 4 || got[0] != "ID" {
		t.Errorf("columns = %v", got)
	}
	if q, ok := r.NamedQuery("authorByName"); !ok || q == "" {
		t.Error("named query not registered")
	}
}

func TestRegistryParsesRelations(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := EntityOf[Author](r)
	b, _ := EntityOf[Book](r)
	tag, _ := EntityOf[Tag](r)
	note, _ := EntityOf[Note](r)

	books := a.Relation("books")
	if books == nil || books.Kind != OneToMany || books.Owning() || books.Target != b {
		t.Fatalf("books = %+v", books)
	}
	if !books.Cascade.Has(CascadeRemove) || !books.Cascade.Has(CascadePersist) || books.Cascade.Has(CascadeMerge) {
		t.Errorf("books cascade = %b", books.Cascade)
	}
	if books.Inverse() != b.Relation("author") {
		t.Error("books inverse should be Book.Author")
	}

	author := b.Relation("author")
	if author.Kind != ManyToOne || author.Fetch != FetchLazy || author.JoinColumn != "AUTHOR_ID" {
		t.Errorf("author = %+v", author)
	}
	if fks := b.ForeignKeys(); len(fks) != 1 || fks[0] != author {
		t.Errorf("book foreign keys = %v", fks)
	}

	tags := b.Relation("tags")
	if tags.JoinTable != "BOOK_TAGS" || tags.JoinColumn != "BOOK_ID" || tags.InverseJoinColumn != "TAG_ID" {
		t.Errorf("tags = %+v", tags)
	}
	if tag.Generation != GenerateTable || tag.Generator != "TAG_ID" {
		t.Errorf("tag generation = %s %s", tag.Generation, tag.Generator)
	}

	notes := a.Relation("notes")
	if !notes.Owning() || notes.Target != note || notes.JoinColumn != "AUTHOR_ID" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestRegistryLookups(t *testing.T) {
	r := newTestRegistry(t)

	if e, err := r.ByName("book"); err != nil || e.Name != "Book" {
		t.Errorf("ByName case-insensitive = %v, %v", e, err)
	}
	if e, err := r.ByTable("authors"); err != nil || e.Name != "Author" {
		t.Errorf("ByTable = %v, %v", e, err)
	}
	if e, err := r.Of(&Note{}); err != nil || e.Table != "NOTE" {
		t.Errorf("Of = %v, %v", e, err)
	}
	if _, err := r.Of(Note{}); !errors.Is(err, ErrNotEntity) {
		t.Errorf("Of(value) error = %v", err)
	}
	if _, err := r.ByName("Nope"); !IsUnknownEntity(err) {
		t.Errorf("ByName unknown error = %v", err)
	}
	if len(r.Entities()) != 4 {
		t.Errorf("entities = %d", len(r.Entities()))
	}
}

func TestRegistryRejectsInvalidMappings(t *testing.T) {
	type noID struct{ Name string }
	type badHolder struct {
		ID    int64
		Other Ref[Note] `orm:"oneToMany"`
	}
	type badGen struct {
		ID string `orm:"id;generated:identity"`
	}
	type dangling struct {
		ID   int64
		Note Ref[Note]
	}

	for name, model := range map[string]any{
		"no id":       noID{},
		"bad holder":  badHolder{},
		"bad gen":     badGen{},
		"not struct":  42,
	} {
		if _, err := NewRegistry(model); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := NewRegistry(dangling{}); !IsUnknownEntity(err) {
		t.Errorf("dangling target error = %v", err)
	}
}

func TestPropertyName(t *testing.T) {
	for in, want := range map[string]string{
		"ID":          "id",
		"LastName":    "lastName",
		"URLPath":     "urlPath",
		"Mgr":         "mgr",
		"createdTime": "createdTime",
	} {
		if got := propertyName(in); got != want {
			t.Errorf("propertyName(%q) = %q, want %q", in, got, want)
		}
	}
}
