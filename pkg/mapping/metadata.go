package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
)

// RelationKind is the cardinality of an association
type RelationKind int

const (
	ManyToOne RelationKind = iota + 1
	OneToOne
	OneToMany
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "many-to-one"
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// FetchType decides when an association is loaded
type FetchType int

const (
	FetchEager FetchType = iota
	FetchLazy
)

// Cascade is a bit set of operations propagated along an association
type Cascade uint8

const (
	CascadePersist Cascade = 1 << iota
	CascadeMerge
	CascadeRemove
	CascadeRefresh
	CascadeDetach

	CascadeAll = CascadePersist | CascadeMerge | CascadeRemove | CascadeRefresh | CascadeDetach
)

// Has reports whether every bit of op is set
func (c Cascade) Has(op Cascade) bool {
	return c&op == op
}

// Generation is the primary key generation strategy
type Generation string

const (
	GenerateNone     Generation = "none"
	GenerateIdentity Generation = "identity"
	GenerateTable    Generation = "table"
	GenerateUUID     Generation = "uuid"
)

// Field is a basic (scalar) persistent attribute
type Field struct {
	Name     string // Go field name
	Property string // name used in object queries
	Column   string
	Index    []int
	Type     reflect.Type
	Size     int
	NotNull  bool
	Unique   bool
	Temporal db.Temporal
	IsID     bool
}

// Relation is an association attribute held in a Ref or Set
type Relation struct {
	Name     string
	Property string
	Kind     RelationKind
	Index    []int
	Owner    *Entity
	Target   *Entity

	// JoinColumn is the foreign key column of an owning to-one relation,
	// or the owner-side column of a many-to-many join table
	JoinColumn string

	MappedBy          string
	JoinTable         string
	InverseJoinColumn string
	Fetch             FetchType
	Cascade           Cascade
	Unique            bool

	targetType reflect.Type
}

// Owning reports whether this side writes the association
func (r *Relation) Owning() bool {
	return r.MappedBy == ""
}

// ToOne reports whether the relation holds a single reference
func (r *Relation) ToOne() bool {
	return r.Kind == ManyToOne || r.Kind == OneToOne
}

// Inverse returns the owning relation on the target for a mappedBy side
func (r *Relation) Inverse() *Relation {
	if r.MappedBy == "" || r.Target == nil {
		return nil
	}
	return r.Target.Relation(r.MappedBy)
}

// Entity is the resolved mapping of one entity type
type Entity struct {
	Name         string
	Type         reflect.Type
	Table        string
	ID           *Field
	Generation   Generation
	Generator    string
	Fields       []*Field
	Relations    []*Relation
	Cacheable    bool
	NamedQueries map[string]string

	fields    map[string]*Field
	relations map[string]*Relation
}

func (e *Entity) String() string {
	return e.Name
}

// Field returns a basic attribute by property or Go field name
func (e *Entity) Field(name string) *Field {
	return e.fields[strings.ToLower(name)]
}

// Relation returns an association by property or Go field name
func (e *Entity) Relation(name string) *Relation {
	return e.relations[strings.ToLower(name)]
}

// ForeignKeys returns the owning to-one relations, which carry a column
func (e *Entity) ForeignKeys() []*Relation {
	var out []*Relation
	for _, r := range e.Relations {
		if r.ToOne() && r.Owning() {
			out = append(out, r)
		}
	}
	return out
}

// Columns returns the column names in state order: basic fields, then foreign keys
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.Fields)+len(e.Relations))
	for _, f := range e.Fields {
		cols = append(cols, f.Column)
	}
	for _, r := range e.ForeignKeys() {
		cols = append(cols, r.JoinColumn)
	}
	return cols
}

// New allocates a zero instance and returns the pointer value
func (e *Entity) New() reflect.Value {
	return reflect.New(e.Type)
}

// Value returns the addressable struct value behind an entity pointer
func (e *Entity) Value(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != e.Type {
		return reflect.Value{}, fmt.Errorf("%w: expected *%s, got %T", ErrNotEntity, e.Name, entity)
	}
	return v.Elem(), nil
}

// IDOf returns the normalized primary key of an instance, nil when unset
func (e *Entity) IDOf(v reflect.Value) any {
	f := v.FieldByIndex(e.ID.Index)
	if f.IsZero() {
		return nil
	}
	return NormalizeID(f.Interface())
}

// SetID assigns a primary key value converted to the field type
func (e *Entity) SetID(v reflect.Value, id any) error {
	return Assign(v.FieldByIndex(e.ID.Index), id)
}

// FieldValue returns the current value of a basic attribute
func (e *Entity) FieldValue(v reflect.Value, f *Field) any {
	return v.FieldByIndex(f.Index).Interface()
}

// ToOneOf returns the Ref held by a to-one relation field
func (e *Entity) ToOneOf(v reflect.Value, r *Relation) ToOne {
	return v.FieldByIndex(r.Index).Addr().Interface().(ToOne)
}

// ToManyOf returns the Set held by a collection relation field
func (e *Entity) ToManyOf(v reflect.Value, r *Relation) ToMany {
	return v.FieldByIndex(r.Index).Addr().Interface().(ToMany)
}
