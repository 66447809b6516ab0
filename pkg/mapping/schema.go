package mapping

import (
	"reflect"

	"github.com/ammar0144/persist4go/pkg/db"
)

// TableDefs returns the entity and join tables in creation order: a table
// is listed after the tables its foreign keys reference where possible
func (r *Registry) TableDefs() []db.TableDef {
	entities := r.Entities()

	// columns contributed to a target table by unidirectional one-to-many owners
	extra := map[*Entity][]*Relation{}
	deps := map[*Entity][]*Entity{}
	for _, e := range entities {
		for _, rel := range e.Relations {
			if rel.Target == nil || !rel.Owning() {
				continue
			}
			switch {
			case rel.ToOne():
				deps[e] = append(deps[e], rel.Target)
			case rel.Kind == OneToMany:
				extra[rel.Target] = append(extra[rel.Target], rel)
				deps[rel.Target] = append(deps[rel.Target], e)
			}
		}
	}

	var ordered []*Entity
	state := map[*Entity]int{} // 1 visiting, 2 done
	var visit func(e *Entity)
	visit = func(e *Entity) {
		if state[e] != 0 {
			return
		}
		state[e] = 1
		for _, d := range deps[e] {
			if d != e {
				visit(d)
			}
		}
		state[e] = 2
		ordered = append(ordered, e)
	}
	for _, e := range entities {
		visit(e)
	}

	defs := make([]db.TableDef, 0, len(ordered))
	for _, e := range ordered {
		defs = append(defs, e.tableDef(extra[e]))
	}
	for _, e := range entities {
		for _, rel := range e.Relations {
			if rel.Kind == ManyToMany && rel.Owning() && rel.Target != nil {
				defs = append(defs, rel.joinTableDef(e))
			}
		}
	}
	return defs
}

func (e *Entity) tableDef(inbound []*Relation) db.TableDef {
	def := db.TableDef{Name: e.Table, PrimaryKey: []string{e.ID.Column}}

	for _, f := range e.Fields {
		def.Columns = append(def.Columns, db.ColumnDef{
			Name:          f.Column,
			Type:          f.Type,
			Size:          f.Size,
			NotNull:       f.NotNull,
			Unique:        f.Unique,
			PrimaryKey:    f.IsID,
			AutoIncrement: f.IsID && e.Generation == GenerateIdentity,
			Temporal:      f.Temporal,
		})
	}

	for _, rel := range e.ForeignKeys() {
		def.Columns = append(def.Columns, keyColumn(rel.JoinColumn, rel.Target, rel.Unique))
		def.ForeignKeys = append(def.ForeignKeys, db.ForeignKeyDef{
			Columns:    []string{rel.JoinColumn},
			RefTable:   rel.Target.Table,
			RefColumns: []string{rel.Target.ID.Column},
		})
	}

	for _, rel := range inbound {
		owner := rel.Owner
		def.Columns = append(def.Columns, keyColumn(rel.JoinColumn, owner, false))
		def.ForeignKeys = append(def.ForeignKeys, db.ForeignKeyDef{
			Columns:    []string{rel.JoinColumn},
			RefTable:   owner.Table,
			RefColumns: []string{owner.ID.Column},
		})
	}
	return def
}

func (rel *Relation) joinTableDef(owner *Entity) db.TableDef {
	return db.TableDef{
		Name: rel.JoinTable,
		Columns: []db.ColumnDef{
			keyColumn(rel.JoinColumn, owner, false),
			keyColumn(rel.InverseJoinColumn, rel.Target, false),
		},
		PrimaryKey: []string{rel.JoinColumn, rel.InverseJoinColumn},
		ForeignKeys: []db.ForeignKeyDef{
			{Columns: []string{rel.JoinColumn}, RefTable: owner.Table, RefColumns: []string{owner.ID.Column}},
			{Columns: []string{rel.InverseJoinColumn}, RefTable: rel.Target.Table, RefColumns: []string{rel.Target.ID.Column}},
		},
	}
}

// keyColumn declares a column holding keys of target
func keyColumn(name string, target *Entity, unique bool) db.ColumnDef {
	return db.ColumnDef{
		Name:   name,
		Type:   derefType(target.ID.Type),
		Size:   target.ID.Size,
		Unique: unique,
	}
}

// IDType returns the Go type of an entity's primary key
func (e *Entity) IDType() reflect.Type {
	return derefType(e.ID.Type)
}
