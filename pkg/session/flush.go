package session

import (
	"context"
	"fmt"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/identity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Flush writes pending changes in order: cascaded persists, queued inserts,
// updates of changed columns, owning collection changes, then deletes.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	s.factory.stats.flushes.Add(1)

	visited := map[any]bool{}
	for _, e := range s.identity.Entries() {
		if e.Status != identity.Managed {
			continue
		}
		if err := s.cascadePersist(ctx, e, visited); err != nil {
			return err
		}
	}

	for len(s.inserts) > 0 {
		e := s.inserts[0]
		s.inserts = s.inserts[1:]
		if err := s.insert(ctx, e); err != nil {
			return err
		}
	}

	updated := 0
	entries := s.identity.Entries()
	for _, e := range entries {
		if e.Status != identity.Managed || !e.Inserted {
			continue
		}
		changed, err := s.flushEntity(ctx, e)
		if err != nil {
			return err
		}
		if changed {
			updated++
		}
	}
	for _, e := range entries {
		if e.Status != identity.Managed || !e.Inserted {
			continue
		}
		if err := s.syncCollections(ctx, e); err != nil {
			return err
		}
	}

	deleted := len(s.deletes)
	for len(s.deletes) > 0 {
		e := s.deletes[0]
		s.deletes = s.deletes[1:]
		if err := s.delete(ctx, e); err != nil {
			return err
		}
	}

	s.logger.Debug().Int("updated", updated).Int("deleted", deleted).Msg("Flushed")
	return nil
}

// flushEntity issues an UPDATE of the columns that differ from the snapshot
func (s *Session) flushEntity(ctx context.Context, e *identity.Entry) (bool, error) {
	meta := e.Meta
	v, err := meta.Value(e.Instance)
	if err != nil {
		return false, err
	}
	if id := meta.IDOf(v); !sameValue(id, e.ID) {
		return false, fmt.Errorf("%w: %s#%v changed to %v", ErrIdentifierAltered, meta.Name, e.ID, id)
	}

	state, pending := s.columnState(meta, v)
	if len(pending) > 0 {
		return false, fmt.Errorf("%w: %s.%s", ErrTransientReference, meta.Name, pending[0].Name)
	}

	cols := meta.Columns()
	var (
		set  []string
		args []any
	)
	for i := range state {
		if !sameValue(state[i], e.Loaded[i]) {
			set = append(set, cols[i])
			args = append(args, state[i])
		}
	}
	if len(set) == 0 {
		return false, nil
	}

	stmt, _ := db.NewBuilder(meta.Table).BuildUpdate(set, meta.ID.Column)
	args = append(args, e.ID)
	if _, err := s.execute(ctx, s.countUpdate, stmt, args...); err != nil {
		return false, fmt.Errorf("failed to update %s#%v: %w", meta.Name, e.ID, err)
	}
	e.Loaded = state
	s.evict(meta, e.ID)
	return true, nil
}

// syncCollections writes the membership changes of owning collections:
// join table rows for many-to-many, target foreign keys for unidirectional
// one-to-many
func (s *Session) syncCollections(ctx context.Context, e *identity.Entry) error {
	meta := e.Meta
	v, err := meta.Value(e.Instance)
	if err != nil {
		return err
	}

	for _, rel := range meta.Relations {
		if rel.ToOne() || !rel.Owning() {
			continue
		}
		set := meta.ToManyOf(v, rel)
		if !set.Initialized() {
			if !set.Pending() {
				continue
			}
			if _, err := set.Resolve(); err != nil {
				return err
			}
		}

		before, ok := e.Collections[rel.Name]
		if !ok {
			if before, err = s.collectionKeys(ctx, rel, e.ID); err != nil {
				return err
			}
		}

		var now []any
		for _, el := range set.Elements() {
			if te, tracked := s.identity.Lookup(el); tracked && te.Status == identity.Removed {
				continue
			}
			id, ok := s.keyOf(rel.Target, el)
			if !ok {
				return fmt.Errorf("%w: %s.%s", ErrTransientReference, meta.Name, rel.Name)
			}
			now = append(now, id)
		}

		added, removed := difference(now, before), difference(before, now)
		if len(added) == 0 && len(removed) == 0 {
			e.Collections[rel.Name] = now
			continue
		}

		if rel.Kind == mapping.ManyToMany {
			err = s.syncJoinTable(ctx, rel, e.ID, added, removed)
		} else {
			err = s.syncForeignKeys(ctx, rel, e.ID, added, removed)
		}
		if err != nil {
			return err
		}
		e.Collections[rel.Name] = now
	}
	return nil
}

func (s *Session) syncJoinTable(ctx context.Context, rel *mapping.Relation, owner any, added, removed []any) error {
	for _, id := range removed {
		stmt, args := db.NewBuilder(rel.JoinTable).
			Where(rel.JoinColumn, db.Equal, owner).
			Where(rel.InverseJoinColumn, db.Equal, id).
			BuildDeleteWhere()
		if _, err := s.execute(ctx, s.countDelete, stmt, args...); err != nil {
			return fmt.Errorf("failed to unlink %s: %w", rel.JoinTable, err)
		}
	}
	insert, _ := db.NewBuilder(rel.JoinTable).BuildInsert([]string{rel.JoinColumn, rel.InverseJoinColumn})
	for _, id := range added {
		if _, err := s.execute(ctx, s.countInsert, insert, owner, id); err != nil {
			return fmt.Errorf("failed to link %s: %w", rel.JoinTable, err)
		}
	}
	s.written[rel.JoinTable] = true
	return nil
}

func (s *Session) syncForeignKeys(ctx context.Context, rel *mapping.Relation, owner any, added, removed []any) error {
	stmt, _ := db.NewBuilder(rel.Target.Table).BuildUpdate([]string{rel.JoinColumn}, rel.Target.ID.Column)
	for _, id := range removed {
		if _, err := s.execute(ctx, s.countUpdate, stmt, nil, id); err != nil {
			return fmt.Errorf("failed to unlink %s: %w", rel.Target.Name, err)
		}
	}
	for _, id := range added {
		if _, err := s.execute(ctx, s.countUpdate, stmt, owner, id); err != nil {
			return fmt.Errorf("failed to link %s: %w", rel.Target.Name, err)
		}
	}
	s.written[rel.Target.Table] = true
	return nil
}

// collectionKeys reads the element keys of an owning collection
func (s *Session) collectionKeys(ctx context.Context, rel *mapping.Relation, owner any) ([]any, error) {
	var b *db.Builder
	if rel.Kind == mapping.ManyToMany {
		b = db.NewBuilder(rel.JoinTable).Select(rel.InverseJoinColumn).Where(rel.JoinColumn, db.Equal, owner)
	} else {
		b = db.NewBuilder(rel.Target.Table).Select(rel.Target.ID.Column).Where(rel.JoinColumn, db.Equal, owner)
	}
	stmt, args := b.BuildSelect()
	rows, err := s.queryRows(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", rel.Owner.Name, rel.Name, err)
	}
	keys := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = mapping.NormalizeID(row[0])
	}
	return keys, nil
}

// delete removes a row, after the join rows and foreign keys it owns
func (s *Session) delete(ctx context.Context, e *identity.Entry) error {
	meta := e.Meta
	for _, rel := range meta.Relations {
		if rel.ToOne() || !rel.Owning() {
			continue
		}
		var (
			stmt string
			args []any
		)
		if rel.Kind == mapping.ManyToMany {
			stmt, args = db.NewBuilder(rel.JoinTable).Where(rel.JoinColumn, db.Equal, e.ID).BuildDeleteWhere()
			s.written[rel.JoinTable] = true
		} else {
			stmt, _ = db.NewBuilder(rel.Target.Table).BuildUpdate([]string{rel.JoinColumn}, rel.JoinColumn)
			args = []any{nil, e.ID}
			s.written[rel.Target.Table] = true
		}
		if _, err := s.execute(ctx, nil, stmt, args...); err != nil {
			return fmt.Errorf("failed to release %s.%s: %w", meta.Name, rel.Name, err)
		}
	}

	stmt := db.NewBuilder(meta.Table).BuildDelete(meta.ID.Column)
	if _, err := s.execute(ctx, s.countDelete, stmt, e.ID); err != nil {
		return fmt.Errorf("failed to delete %s#%v: %w", meta.Name, e.ID, err)
	}
	s.identity.Remove(e.Instance)
	s.evict(meta, e.ID)
	return nil
}

// difference returns the keys of a missing from b
func difference(a, b []any) []any {
	var out []any
	for _, x := range a {
		found := false
		for _, y := range b {
			if sameValue(x, y) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}
