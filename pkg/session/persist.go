package session

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/identity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// ============================================================================
// Persist
// ============================================================================

// Persist makes a transient instance managed. Identity-generated rows are
// inserted immediately to obtain their key; other rows are inserted at
// flush. An instance that already carries a generated key is detached and
// rejected with ErrDetachedEntity. Persist cascades along associations
// marked for it.
func (s *Session) Persist(ctx context.Context, entity any) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	return s.persist(ctx, entity, map[any]bool{})
}

func (s *Session) persist(ctx context.Context, entity any, visited map[any]bool) error {
	if visited[entity] {
		return nil
	}
	visited[entity] = true

	meta, err := s.factory.registry.Of(entity)
	if err != nil {
		return err
	}
	v, err := meta.Value(entity)
	if err != nil {
		return err
	}

	if entry, ok := s.identity.Lookup(entity); ok {
		if entry.Status == identity.Removed {
			// persisting a removed instance cancels the removal
			entry.Status = identity.Managed
			s.deletes = dropEntry(s.deletes, entry)
		}
		return s.cascadePersist(ctx, entry, visited)
	}

	id := meta.IDOf(v)
	switch {
	case id != nil && meta.Generation != mapping.GenerateNone:
		return fmt.Errorf("%w: %s#%v passed to persist", ErrDetachedEntity, meta.Name, id)
	case id == nil && meta.Generation == mapping.GenerateNone:
		return fmt.Errorf("%s needs an assigned identifier before persist", meta.Name)
	}

	entry := &identity.Entry{Instance: entity, Meta: meta, ID: id, Collections: map[string][]any{}}
	if meta.Generation == mapping.GenerateTable || meta.Generation == mapping.GenerateUUID {
		gen, err := s.generateID(ctx, meta)
		if err != nil {
			return err
		}
		if err := meta.SetID(v, gen); err != nil {
			return err
		}
		entry.ID = meta.IDOf(v)
	}
	if err := s.identity.Put(entry); err != nil {
		return err
	}
	// every element of a new owning collection is an addition
	for _, rel := range meta.Relations {
		if !rel.ToOne() && rel.Owning() {
			entry.Collections[rel.Name] = []any{}
		}
	}

	if meta.Generation == mapping.GenerateIdentity {
		if err := s.insert(ctx, entry); err != nil {
			s.identity.Remove(entity)
			return err
		}
	} else {
		s.inserts = append(s.inserts, entry)
	}
	s.logger.Debug().Str("entity", meta.Name).Interface("id", entry.ID).Msg("Persisted")
	return s.cascadePersist(ctx, entry, visited)
}

func (s *Session) cascadePersist(ctx context.Context, entry *identity.Entry, visited map[any]bool) error {
	return s.cascade(entry, mapping.CascadePersist, false, func(target any) error {
		return s.persist(ctx, target, visited)
	})
}

// insert writes one row. References to instances without a row yet are
// written as NULL and fixed by the dirty check at flush.
func (s *Session) insert(ctx context.Context, entry *identity.Entry) error {
	meta := entry.Meta
	v, err := meta.Value(entry.Instance)
	if err != nil {
		return err
	}

	// referenced rows still waiting in the queue go first
	for _, rel := range meta.ForeignKeys() {
		target, loaded := meta.ToOneOf(v, rel).Peek()
		if !loaded || target == nil {
			continue
		}
		te, ok := s.identity.Lookup(target)
		if !ok || te.Inserted || !slices.Contains(s.inserts, te) {
			continue
		}
		s.inserts = dropEntry(s.inserts, te)
		if err := s.insert(ctx, te); err != nil {
			return err
		}
	}

	state, _ := s.columnState(meta, v)
	cols, args := meta.Columns(), state

	identityKey := meta.Generation == mapping.GenerateIdentity
	i := idIndex(meta)
	if identityKey {
		cols = append(cols[:i:i], cols[i+1:]...)
		args = append(state[:i:i], state[i+1:]...)
	}

	stmt, _ := db.NewBuilder(meta.Table).BuildInsert(cols)
	res, err := s.execute(ctx, s.countInsert, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", meta.Name, err)
	}

	if identityKey {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read generated key of %s: %w", meta.Name, err)
		}
		if err := meta.SetID(v, id); err != nil {
			return err
		}
		if err := s.identity.Rekey(entry, meta.IDOf(v)); err != nil {
			return err
		}
		state[i] = mapping.DatabaseValue(v.FieldByIndex(meta.ID.Index).Interface())
	}

	entry.Inserted = true
	entry.Loaded = state
	s.written[meta.Table] = true
	return nil
}

// ============================================================================
// Remove
// ============================================================================

// Remove schedules a managed instance for deletion at flush. Instances not
// managed by this session are rejected with ErrDetachedEntity. Remove
// cascades along associations marked for it, loading them if needed.
func (s *Session) Remove(ctx context.Context, entity any) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	return s.remove(ctx, entity, map[any]bool{})
}

func (s *Session) remove(ctx context.Context, entity any, visited map[any]bool) error {
	if visited[entity] {
		return nil
	}
	visited[entity] = true

	entry, ok := s.identity.Lookup(entity)
	if !ok {
		return fmt.Errorf("%w: remove needs a managed instance, got %T", ErrDetachedEntity, entity)
	}
	if entry.Status == identity.Removed {
		return nil
	}
	entry.Status = identity.Removed

	err := s.cascade(entry, mapping.CascadeRemove, true, func(target any) error {
		if _, tracked := s.identity.Lookup(target); !tracked {
			return nil
		}
		return s.remove(ctx, target, visited)
	})
	if err != nil {
		return err
	}

	if !entry.Inserted {
		// never written: forget the queued insert
		s.untrack(entry)
		return nil
	}
	s.deletes = append(s.deletes, entry)
	s.logger.Debug().Str("entity", entry.Meta.Name).Interface("id", entry.ID).Msg("Removed")
	return nil
}

// ============================================================================
// Merge
// ============================================================================

// Merge copies the state of entity onto a managed instance and returns it.
// A transient instance, or a detached one whose row no longer exists, is
// copied into a new instance that is persisted; entity itself is never
// made managed. Merge cascades along associations marked for it.
func (s *Session) Merge(ctx context.Context, entity any) (any, error) {
	if err := s.requireTx(); err != nil {
		return nil, err
	}
	return s.merge(ctx, entity, map[any]any{})
}

// Merge is the typed form of Session.Merge
func Merge[T any](ctx context.Context, s *Session, entity *T) (*T, error) {
	out, err := s.Merge(ctx, entity)
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

func (s *Session) merge(ctx context.Context, entity any, merged map[any]any) (any, error) {
	if m, ok := merged[entity]; ok {
		return m, nil
	}
	meta, err := s.factory.registry.Of(entity)
	if err != nil {
		return nil, err
	}
	v, err := meta.Value(entity)
	if err != nil {
		return nil, err
	}

	if entry, ok := s.identity.Lookup(entity); ok {
		if entry.Status == identity.Removed {
			return nil, fmt.Errorf("cannot merge removed instance of %s", meta.Name)
		}
		merged[entity] = entity
		return entity, nil
	}

	var managed any
	if id := meta.IDOf(v); id != nil {
		if managed, err = s.find(ctx, meta, id); err != nil {
			return nil, err
		}
	}

	if managed == nil {
		fresh := meta.New()
		merged[entity] = fresh.Interface()
		if err := s.copyState(ctx, meta, v, fresh.Elem(), merged); err != nil {
			return nil, err
		}
		if meta.Generation != mapping.GenerateNone {
			idField := fresh.Elem().FieldByIndex(meta.ID.Index)
			idField.Set(reflect.Zero(idField.Type()))
		}
		if err := s.persist(ctx, fresh.Interface(), map[any]bool{}); err != nil {
			return nil, err
		}
		return fresh.Interface(), nil
	}

	merged[entity] = managed
	mv, err := meta.Value(managed)
	if err != nil {
		return nil, err
	}
	if err := s.copyState(ctx, meta, v, mv, merged); err != nil {
		return nil, err
	}
	return managed, nil
}

// copyState copies basic fields and loaded associations from src to dst,
// replacing association targets with their managed counterparts
func (s *Session) copyState(ctx context.Context, meta *mapping.Entity, src, dst reflect.Value, merged map[any]any) error {
	for _, f := range meta.Fields {
		dst.FieldByIndex(f.Index).Set(src.FieldByIndex(f.Index))
	}

	for _, rel := range meta.Relations {
		if rel.ToOne() {
			from, to := meta.ToOneOf(src, rel), meta.ToOneOf(dst, rel)
			target, loaded := from.Peek()
			switch {
			case !loaded:
				fk := from.ForeignKey()
				if e, ok := s.identity.Get(identity.KeyOf(rel.Target, fk)); ok && e.Status == identity.Managed {
					to.Assign(e.Instance)
				} else {
					to.Bind(fk, s.referenceLoader(nil, rel.Target, fk))
				}
			case target == nil:
				to.Assign(nil)
			default:
				m, err := s.mergeTarget(ctx, rel, target, merged)
				if err != nil {
					return err
				}
				to.Assign(m)
			}
			continue
		}

		from := meta.ToManyOf(src, rel)
		if !from.Initialized() {
			continue
		}
		elems := from.Elements()
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			m, err := s.mergeTarget(ctx, rel, el, merged)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		meta.ToManyOf(dst, rel).Replace(out)
	}
	return nil
}

// mergeTarget maps an association target onto the instance the managed
// graph should point at
func (s *Session) mergeTarget(ctx context.Context, rel *mapping.Relation, target any, merged map[any]any) (any, error) {
	if m, ok := merged[target]; ok {
		return m, nil
	}
	if rel.Cascade.Has(mapping.CascadeMerge) {
		return s.merge(ctx, target, merged)
	}
	if s.identity.Contains(target) {
		return target, nil
	}
	tv, err := rel.Target.Value(target)
	if err != nil {
		return nil, err
	}
	id := rel.Target.IDOf(tv)
	if id == nil {
		// transient and not cascaded: flush reports it if it is written
		return target, nil
	}
	inst, err := s.find(ctx, rel.Target, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return target, nil
	}
	return inst, nil
}

// ============================================================================
// Refresh
// ============================================================================

// Refresh overwrites a managed instance with its row, bypassing the
// second-level cache. In-memory changes and loaded associations are
// discarded. Refresh cascades along associations marked for it.
func (s *Session) Refresh(ctx context.Context, entity any) error {
	if err := s.check(); err != nil {
		return err
	}
	entry, ok := s.identity.Lookup(entity)
	if !ok || entry.Status != identity.Managed {
		return fmt.Errorf("%w: refresh needs a managed instance, got %T", ErrDetachedEntity, entity)
	}
	return s.refresh(ctx, entry, map[any]bool{})
}

func (s *Session) refresh(ctx context.Context, entry *identity.Entry, visited map[any]bool) error {
	if visited[entry.Instance] {
		return nil
	}
	visited[entry.Instance] = true

	meta := entry.Meta
	if !entry.Inserted {
		return fmt.Errorf("%w: %s#%v is not inserted yet", ErrEntityNotFound, meta.Name, entry.ID)
	}

	err := s.cascade(entry, mapping.CascadeRefresh, false, func(target any) error {
		te, ok := s.identity.Lookup(target)
		if !ok || te.Status != identity.Managed {
			return nil
		}
		return s.refresh(ctx, te, visited)
	})
	if err != nil {
		return err
	}

	stmt, args := db.NewBuilder(meta.Table+" t0").
		Select(qualify("t0", meta.Columns())...).
		Where("t0."+meta.ID.Column, db.Equal, entry.ID).
		BuildSelect()
	rows, err := s.queryRows(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", meta.Name, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s#%v", ErrEntityNotFound, meta.Name, entry.ID)
	}
	row := rows[0]

	v, err := meta.Value(entry.Instance)
	if err != nil {
		return err
	}
	for i, f := range meta.Fields {
		if err := mapping.Assign(v.FieldByIndex(f.Index), row[i]); err != nil {
			return fmt.Errorf("%s.%s: %w", meta.Name, f.Name, err)
		}
	}
	entry.Collections = map[string][]any{}
	eager := s.bindAssociations(entry, v, row[len(meta.Fields):])
	entry.Loaded, _ = s.columnState(meta, v)
	s.factory.stats.entityLoads.Add(1)

	for _, load := range eager {
		if err := load(); err != nil {
			return err
		}
	}
	return nil
}
