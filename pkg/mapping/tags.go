package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/ammar0144/persist4go/pkg/db"
	"gorm.io/gorm/schema"
)

// TagName is the struct tag holding mapping options
const TagName = "orm"

// naming derives default table and column names; results are upper-cased
var naming = schema.NamingStrategy{SingularTable: true}

// Optional interfaces an entity type may implement
type (
	tabler interface {
		TableName() string
	}
	cacheable interface {
		Cacheable() bool
	}
	namedQuerier interface {
		NamedQueries() map[string]string
	}
	association interface {
		elemType() reflect.Type
	}
)

var (
	associationType = reflect.TypeOf((*association)(nil)).Elem()
	toOneType       = reflect.TypeOf((*ToOne)(nil)).Elem()
)

// parseEntity builds the metadata of a struct type from its orm tags.
// Relation targets are resolved later by the registry.
func parseEntity(t reflect.Type) (*Entity, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrNotEntity, t)
	}

	e := &Entity{
		Name:       t.Name(),
		Type:       t,
		Table:      strings.ToUpper(naming.TableName(t.Name())),
		Generation: GenerateNone,
		fields:     map[string]*Field{},
		relations:  map[string]*Relation{},
	}

	model := reflect.New(t).Interface()
	if tn, ok := model.(tabler); ok && tn.TableName() != "" {
		e.Table = tn.TableName()
	}
	if c, ok := model.(cacheable); ok {
		e.Cacheable = c.Cacheable()
	}
	if nq, ok := model.(namedQuerier); ok {
		e.NamedQueries = nq.NamedQueries()
	}

	if err := e.parseFields(t, nil); err != nil {
		return nil, err
	}

	if e.ID == nil {
		for _, f := range e.Fields {
			if f.Name == "ID" {
				f.IsID = true
				e.ID = f
				break
			}
		}
	}
	if e.ID == nil {
		return nil, fmt.Errorf("%w: %s has no id field", ErrInvalidMapping, e.Name)
	}

	// id first keeps state ordering stable across entities
	ordered := []*Field{e.ID}
	for _, f := range e.Fields {
		if f != e.ID {
			ordered = append(ordered, f)
		}
	}
	e.Fields = ordered

	if err := e.checkGeneration(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entity) parseFields(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.Tag.Get(TagName) == "" {
			if err := e.parseFields(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		settings := schema.ParseTagSetting(sf.Tag.Get(TagName), ";")
		if _, skip := settings["-"]; skip {
			continue
		}
		if _, skip := settings["TRANSIENT"]; skip {
			continue
		}

		if reflect.PointerTo(sf.Type).Implements(associationType) {
			r, err := e.parseRelation(sf, index, settings)
			if err != nil {
				return err
			}
			e.Relations = append(e.Relations, r)
			e.relations[strings.ToLower(r.Name)] = r
			e.relations[strings.ToLower(r.Property)] = r
			continue
		}

		f, err := e.parseField(sf, index, settings)
		if err != nil {
			return err
		}
		e.Fields = append(e.Fields, f)
		e.fields[strings.ToLower(f.Name)] = f
		e.fields[strings.ToLower(f.Property)] = f
	}
	return nil
}

func (e *Entity) parseField(sf reflect.StructField, index []int, settings map[string]string) (*Field, error) {
	f := &Field{
		Name:     sf.Name,
		Property: propertyName(sf.Name),
		Column:   strings.ToUpper(naming.ColumnName("", sf.Name)),
		Index:    index,
		Type:     sf.Type,
	}

	if col, ok := settings["COLUMN"]; ok && col != "" {
		f.Column = col
	}
	if size, ok := settings["SIZE"]; ok {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s size %q", ErrInvalidMapping, e.Name, sf.Name, size)
		}
		f.Size = n
	}
	_, f.NotNull = settings["NOTNULL"]
	_, f.Unique = settings["UNIQUE"]

	if derefType(sf.Type) == timeType {
		f.Temporal = db.TemporalTimestamp
		if tv, ok := settings["TEMPORAL"]; ok {
			switch db.Temporal(strings.ToLower(tv)) {
			case db.TemporalDate:
				f.Temporal = db.TemporalDate
			case db.TemporalTimestamp:
			default:
				return nil, fmt.Errorf("%w: %s.%s temporal %q", ErrInvalidMapping, e.Name, sf.Name, tv)
			}
		}
	}

	if _, ok := settings["ID"]; ok {
		if e.ID != nil {
			return nil, fmt.Errorf("%w: %s declares more than one id", ErrInvalidMapping, e.Name)
		}
		f.IsID = true
		e.ID = f
	}
	if gen, ok := settings["GENERATED"]; ok {
		e.Generation = Generation(strings.ToLower(gen))
		if e.Generation == "auto" {
			e.Generation = GenerateTable
		}
	}
	if gen, ok := settings["GENERATOR"]; ok {
		e.Generator = gen
	}
	return f, nil
}

func (e *Entity) checkGeneration() error {
	kind := derefType(e.ID.Type).Kind()
	switch e.Generation {
	case GenerateNone:
	case GenerateIdentity, GenerateTable:
		if kind < reflect.Int || kind > reflect.Uint64 {
			return fmt.Errorf("%w: %s %s generation needs an integer id", ErrInvalidMapping, e.Name, e.Generation)
		}
	case GenerateUUID:
		if kind != reflect.String {
			return fmt.Errorf("%w: %s uuid generation needs a string id", ErrInvalidMapping, e.Name)
		}
	default:
		return fmt.Errorf("%w: %s unknown generation %q", ErrInvalidMapping, e.Name, e.Generation)
	}
	if e.Generation == GenerateTable && e.Generator == "" {
		e.Generator = strings.ToUpper(e.Name) + "_ID"
	}
	return nil
}

func (e *Entity) parseRelation(sf reflect.StructField, index []int, settings map[string]string) (*Relation, error) {
	holder := reflect.New(sf.Type).Interface().(association)
	single := reflect.PointerTo(sf.Type).Implements(toOneType)

	r := &Relation{
		Name:       sf.Name,
		Property:   propertyName(sf.Name),
		Index:      index,
		Owner:      e,
		MappedBy:   settings["MAPPEDBY"],
		JoinTable:  settings["JOINTABLE"],
		JoinColumn: settings["JOINCOLUMN"],

		InverseJoinColumn: settings["INVERSEJOINCOLUMN"],
		targetType:        holder.elemType(),
	}
	_, r.Unique = settings["UNIQUE"]

	switch {
	case has(settings, "MANYTOONE"):
		r.Kind = ManyToOne
	case has(settings, "ONETOONE"):
		r.Kind = OneToOne
	case has(settings, "ONETOMANY"):
		r.Kind = OneToMany
	case has(settings, "MANYTOMANY"):
		r.Kind = ManyToMany
	case single:
		r.Kind = ManyToOne
	default:
		r.Kind = OneToMany
	}
	if r.ToOne() != single {
		return nil, fmt.Errorf("%w: %s.%s %s needs a %s holder", ErrInvalidMapping, e.Name, sf.Name, r.Kind, holderName(r.ToOne()))
	}
	if r.Kind == ManyToOne && r.MappedBy != "" {
		return nil, fmt.Errorf("%w: %s.%s many-to-one cannot be mappedBy", ErrInvalidMapping, e.Name, sf.Name)
	}

	if r.ToOne() {
		r.Fetch = FetchEager
	} else {
		r.Fetch = FetchLazy
	}
	if fetch, ok := settings["FETCH"]; ok {
		switch strings.ToLower(fetch) {
		case "lazy":
			r.Fetch = FetchLazy
		case "eager":
			r.Fetch = FetchEager
		default:
			return nil, fmt.Errorf("%w: %s.%s fetch %q", ErrInvalidMapping, e.Name, sf.Name, fetch)
		}
	}

	if cascade, ok := settings["CASCADE"]; ok {
		for _, op := range strings.Split(cascade, ",") {
			switch strings.ToLower(strings.TrimSpace(op)) {
			case "persist":
				r.Cascade |= CascadePersist
			case "merge":
				r.Cascade |= CascadeMerge
			case "remove":
				r.Cascade |= CascadeRemove
			case "refresh":
				r.Cascade |= CascadeRefresh
			case "detach":
				r.Cascade |= CascadeDetach
			case "all":
				r.Cascade |= CascadeAll
			case "":
			default:
				return nil, fmt.Errorf("%w: %s.%s cascade %q", ErrInvalidMapping, e.Name, sf.Name, op)
			}
		}
	}

	if r.ToOne() && r.Owning() && r.JoinColumn == "" {
		r.JoinColumn = strings.ToUpper(naming.ColumnName("", sf.Name)) + "_ID"
	}
	return r, nil
}

func has(settings map[string]string, key string) bool {
	_, ok := settings[key]
	return ok
}

func holderName(single bool) string {
	if single {
		return "Ref"
	}
	return "Set"
}

// propertyName lower-cases the leading word of a Go field name: LastName ->
// lastName, ID -> id, URLPath -> urlPath
func propertyName(name string) string {
	runes := []rune(name)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return name
	case n == 1 || n == len(runes):
	default:
		n-- // keep the capital that starts the next word
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
