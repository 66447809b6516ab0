package session

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/identity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// idIndex returns the position of the primary key in the column state
func idIndex(meta *mapping.Entity) int {
	for i, f := range meta.Fields {
		if f == meta.ID {
			return i
		}
	}
	return 0
}

// normalizeState converts a row as read from the driver into column state:
// field values pass through their Go types, foreign keys are normalized
func normalizeState(meta *mapping.Entity, row []any) ([]any, error) {
	tmp := meta.New().Elem()
	state := make([]any, len(row))
	for i, f := range meta.Fields {
		dst := tmp.FieldByIndex(f.Index)
		if err := mapping.Assign(dst, row[i]); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Name, f.Name, err)
		}
		state[i] = mapping.DatabaseValue(dst.Interface())
	}
	for i := len(meta.Fields); i < len(row); i++ {
		state[i] = mapping.NormalizeID(row[i])
	}
	return state, nil
}

// columnState reads the current column state of a tracked instance. pending
// lists the to-one relations whose target has no row yet; their column is NULL.
func (s *Session) columnState(meta *mapping.Entity, v reflect.Value) (state []any, pending []*mapping.Relation) {
	state = make([]any, 0, len(meta.Fields)+len(meta.Relations))
	for _, f := range meta.Fields {
		state = append(state, mapping.DatabaseValue(v.FieldByIndex(f.Index).Interface()))
	}
	for _, rel := range meta.ForeignKeys() {
		ref := meta.ToOneOf(v, rel)
		target, loaded := ref.Peek()
		switch {
		case !loaded:
			state = append(state, ref.ForeignKey())
		case target == nil:
			state = append(state, nil)
		default:
			fk, ok := s.keyOf(rel.Target, target)
			if !ok {
				pending = append(pending, rel)
			}
			state = append(state, fk)
		}
	}
	return state, pending
}

// keyOf returns the foreign key value for a reference to target. ok is false
// when the target has no row to point at yet.
func (s *Session) keyOf(meta *mapping.Entity, target any) (any, bool) {
	if e, tracked := s.identity.Lookup(target); tracked {
		if e.Inserted && e.ID != nil {
			return e.ID, true
		}
		return nil, false
	}
	v, err := meta.Value(target)
	if err != nil {
		return nil, false
	}
	id := meta.IDOf(v)
	return id, id != nil
}

// sameValue compares column values as stored
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return reflect.DeepEqual(mapping.NormalizeID(a), mapping.NormalizeID(b))
}

// ============================================================================
// Hydration
// ============================================================================

// assemble returns the managed instance for a row in column state order.
// An instance already in the identity map wins over the row. A NULL key
// (an outer join miss) yields nil.
func (s *Session) assemble(ctx context.Context, meta *mapping.Entity, values []any, fromCache bool) (any, error) {
	raw := values[idIndex(meta)]
	if raw == nil {
		return nil, nil
	}
	if entry, ok := s.identity.Get(identity.KeyOf(meta, raw)); ok {
		return entry.Instance, nil
	}

	ptr := meta.New()
	v := ptr.Elem()
	for i, f := range meta.Fields {
		if err := mapping.Assign(v.FieldByIndex(f.Index), values[i]); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Name, f.Name, err)
		}
	}

	entry := &identity.Entry{
		Instance:    ptr.Interface(),
		Meta:        meta,
		ID:          meta.IDOf(v),
		Inserted:    true,
		Collections: map[string][]any{},
	}
	// tracked before associations bind, so cycles resolve to this instance
	if err := s.identity.Put(entry); err != nil {
		return nil, err
	}

	eager := s.bindAssociations(entry, v, values[len(meta.Fields):])
	entry.Loaded, _ = s.columnState(meta, v)

	if fromCache {
		s.factory.stats.cacheLoads.Add(1)
	} else {
		s.factory.stats.entityLoads.Add(1)
		if state, err := normalizeState(meta, values); err == nil {
			s.cacheEntity(ctx, meta, entry.ID, state)
		}
	}

	for _, load := range eager {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return entry.Instance, nil
}

// bindAssociations installs targets or loaders on every association of a
// freshly loaded instance and returns the loads to run eagerly
func (s *Session) bindAssociations(entry *identity.Entry, v reflect.Value, fks []any) []func() error {
	meta := entry.Meta
	var eager []func() error

	owning := meta.ForeignKeys()
	for i, rel := range owning {
		ref := meta.ToOneOf(v, rel)
		fk := mapping.NormalizeID(fks[i])
		if fk == nil {
			ref.Assign(nil)
			continue
		}
		if target, ok := s.identity.Get(identity.KeyOf(rel.Target, fk)); ok && target.Status == identity.Managed {
			ref.Assign(target.Instance)
			continue
		}
		ref.Bind(fk, s.referenceLoader(entry, rel.Target, fk))
		if rel.Fetch == mapping.FetchEager {
			eager = append(eager, func() error { _, err := ref.Resolve(); return err })
		}
	}

	for _, rel := range meta.Relations {
		switch {
		case rel.ToOne() && rel.Owning():
			continue
		case rel.ToOne():
			ref := meta.ToOneOf(v, rel)
			ref.Bind(entry.ID, s.inverseLoader(entry, rel))
			if rel.Fetch == mapping.FetchEager {
				eager = append(eager, func() error { _, err := ref.Resolve(); return err })
			}
		default:
			set := meta.ToManyOf(v, rel)
			set.Replace(nil)
			set.BindLoader(s.collectionLoader(entry, rel))
			if rel.Fetch == mapping.FetchEager {
				eager = append(eager, func() error { _, err := set.Resolve(); return err })
			}
		}
	}
	return eager
}

// usable fails lazy loads once the session is closed or the owner detached
func (s *Session) usable(owner *identity.Entry) error {
	if s.closed {
		return fmt.Errorf("%w (session closed)", mapping.ErrLazyInitialization)
	}
	if owner == nil {
		return nil
	}
	if cur, ok := s.identity.Lookup(owner.Instance); !ok || cur != owner {
		return fmt.Errorf("%w (%s is detached)", mapping.ErrLazyInitialization, owner.Meta.Name)
	}
	return nil
}

// loadContext bounds a lazy load, which has no caller context
func (s *Session) loadContext() (context.Context, context.CancelFunc) {
	return s.factory.db.WithQueryTimeout(context.Background())
}

func (s *Session) referenceLoader(owner *identity.Entry, target *mapping.Entity, fk any) mapping.Loader {
	return func() (any, error) {
		if err := s.usable(owner); err != nil {
			return nil, err
		}
		ctx, cancel := s.loadContext()
		defer cancel()
		inst, err := s.find(ctx, target, fk)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, fmt.Errorf("%w: %s#%v", ErrEntityNotFound, target.Name, fk)
		}
		return inst, nil
	}
}

// inverseLoader finds the owner of the other side of a one-to-one
func (s *Session) inverseLoader(owner *identity.Entry, rel *mapping.Relation) mapping.Loader {
	return func() (any, error) {
		if err := s.usable(owner); err != nil {
			return nil, err
		}
		ctx, cancel := s.loadContext()
		defer cancel()
		inv := rel.Inverse()
		b := db.NewBuilder(rel.Target.Table+" t0").
			Select(qualify("t0", rel.Target.Columns())...).
			Where("t0."+inv.JoinColumn, db.Equal, owner.ID)
		found, err := s.loadAll(ctx, rel.Target, b)
		if err != nil || len(found) == 0 {
			return nil, err
		}
		return found[0], nil
	}
}

func (s *Session) collectionLoader(owner *identity.Entry, rel *mapping.Relation) mapping.CollectionLoader {
	return func() ([]any, error) {
		if err := s.usable(owner); err != nil {
			return nil, err
		}
		ctx, cancel := s.loadContext()
		defer cancel()
		elems, err := s.loadAll(ctx, rel.Target, collectionQuery(rel, owner.ID))
		if err != nil {
			return nil, err
		}
		if rel.Owning() {
			owner.Collections[rel.Name] = elementKeys(s, rel.Target, elems)
		}
		return elems, nil
	}
}

// collectionQuery selects the elements of rel for the owner key
func collectionQuery(rel *mapping.Relation, ownerID any) *db.Builder {
	target := rel.Target
	b := db.NewBuilder(target.Table + " t0").Select(qualify("t0", target.Columns())...)
	switch {
	case rel.Kind == mapping.ManyToMany && rel.Owning():
		b.InnerJoin(rel.JoinTable+" t1", "t1."+rel.InverseJoinColumn+" = t0."+target.ID.Column).
			Where("t1."+rel.JoinColumn, db.Equal, ownerID)
	case rel.Kind == mapping.ManyToMany:
		inv := rel.Inverse()
		b.InnerJoin(inv.JoinTable+" t1", "t1."+inv.JoinColumn+" = t0."+target.ID.Column).
			Where("t1."+inv.InverseJoinColumn, db.Equal, ownerID)
	case rel.Owning():
		// unidirectional one-to-many: the key column lives in the target table
		b.Where("t0."+rel.JoinColumn, db.Equal, ownerID)
	default:
		b.Where("t0."+rel.Inverse().JoinColumn, db.Equal, ownerID)
	}
	return b.OrderBy("t0."+target.ID.Column, false)
}

func qualify(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}

// elementKeys returns the ids of elements that have one
func elementKeys(s *Session, meta *mapping.Entity, elems []any) []any {
	keys := make([]any, 0, len(elems))
	for _, e := range elems {
		if id, ok := s.keyOf(meta, e); ok {
			keys = append(keys, id)
		}
	}
	return keys
}

// loadAll runs an entity select and assembles every row
func (s *Session) loadAll(ctx context.Context, meta *mapping.Entity, b *db.Builder) ([]any, error) {
	stmt, args := b.BuildSelect()
	rows, err := s.queryRows(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", meta.Name, err)
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		inst, err := s.assemble(ctx, meta, row, false)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out, nil
}

// ============================================================================
// Find
// ============================================================================

// find looks in the identity map, then the second-level cache, then the
// database. It returns nil when no row exists or the instance is removed.
func (s *Session) find(ctx context.Context, meta *mapping.Entity, id any) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	id = mapping.NormalizeID(id)
	if id == nil {
		return nil, nil
	}
	if entry, ok := s.identity.Get(identity.KeyOf(meta, id)); ok {
		if entry.Status == identity.Removed {
			return nil, nil
		}
		return entry.Instance, nil
	}

	// shared state predates this transaction's writes to the table
	if s.clearAll || s.written[meta.Table] {
		return s.load(ctx, meta, id)
	}
	if state, ok := s.factory.cache.GetEntity(ctx, meta, id); ok {
		s.logger.Debug().Str("entity", meta.Name).Interface("id", id).Msg("Second-level cache hit")
		return s.assemble(ctx, meta, state, true)
	}

	return s.load(ctx, meta, id)
}

// load selects one row by primary key, bypassing the caches
func (s *Session) load(ctx context.Context, meta *mapping.Entity, id any) (any, error) {
	b := db.NewBuilder(meta.Table+" t0").
		Select(qualify("t0", meta.Columns())...).
		Where("t0."+meta.ID.Column, db.Equal, id)
	found, err := s.loadAll(ctx, meta, b)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// FindEntity finds an instance by entity metadata and key
func (s *Session) FindEntity(ctx context.Context, meta *mapping.Entity, id any) (any, error) {
	return s.find(ctx, meta, id)
}

// Find returns the managed instance of T with the given key, or nil when
// no row exists
func Find[T any](ctx context.Context, s *Session, id any) (*T, error) {
	meta, err := mapping.EntityOf[T](s.factory.registry)
	if err != nil {
		return nil, err
	}
	inst, err := s.find(ctx, meta, id)
	if err != nil || inst == nil {
		return nil, err
	}
	return inst.(*T), nil
}

// GetReference returns a reference to the row of T with the given key
// without loading it. The first Get loads the row and fails with
// ErrEntityNotFound when it does not exist.
func GetReference[T any](s *Session, id any) (*mapping.Ref[T], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	meta, err := mapping.EntityOf[T](s.factory.registry)
	if err != nil {
		return nil, err
	}
	ref := &mapping.Ref[T]{}
	id = mapping.NormalizeID(id)
	if entry, ok := s.identity.Get(identity.KeyOf(meta, id)); ok && entry.Status == identity.Managed {
		ref.Assign(entry.Instance)
		return ref, nil
	}
	ref.Bind(id, s.referenceLoader(nil, meta, id))
	return ref, nil
}
