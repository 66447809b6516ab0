package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Alias is the identification variable of the entity in FindWhere, First
// and Order clauses, as in "e.age > ?"
const Alias = "e"

// GenericRepository provides CRUD operations over one entity type. Reads go
// through the session factory's identity map, second-level cache and query
// cache; writes run in their own transaction and evict on commit.
type GenericRepository[T any] struct {
	factory  *session.Factory
	meta     *mapping.Entity
	logger   zerolog.Logger
	preloads []string
	orderBy  string
	limit    int
	offset   int
	cached   bool
	err      error
}

// NewGenericRepository creates a repository for T, which must be registered
// with the factory's registry
func NewGenericRepository[T any](factory *session.Factory) (Repository[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory cannot be nil")
	}
	meta, err := mapping.EntityOf[T](factory.Registry())
	if err != nil {
		return nil, err
	}
	return &GenericRepository[T]{
		factory: factory,
		meta:    meta,
		logger:  log.With().Str("component", "repository").Str("entity", meta.Name).Logger(),
		cached:  true,
	}, nil
}

// withSession runs fn in a new session that is closed afterwards
func (r *GenericRepository[T]) withSession(ctx context.Context, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, cancel := r.factory.Database().WithQueryTimeout(ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before operation: %w", err)
	}
	s := r.factory.NewSession()
	defer s.Close()
	return fn(ctx, s)
}

// inTransaction runs fn in a new session's transaction
func (r *GenericRepository[T]) inTransaction(ctx context.Context, fn func(ctx context.Context, s *session.Session) error) error {
	return r.withSession(ctx, func(ctx context.Context, s *session.Session) error {
		return s.Transaction(ctx, func(s *session.Session) error {
			return fn(ctx, s)
		})
	})
}

// ============================================================================
// READ OPERATIONS - Cache-First Implementation
// ============================================================================

// FindByID finds a record by ID, checking the second-level cache first.
// A missing record yields nil, nil.
func (r *GenericRepository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	if len(r.preloads) > 0 {
		return r.First(ctx, Alias+"."+r.meta.ID.Property+" = ?", id)
	}

	var found *T
	err := r.withSession(ctx, func(ctx context.Context, s *session.Session) error {
		var err error
		found, err = session.Find[T](ctx, s, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find %s#%v: %w", r.meta.Name, id, err)
	}
	return found, nil
}

// FindAll finds all records
func (r *GenericRepository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return r.FindWhere(ctx, "")
}

// FindWhere finds records matching a condition on Alias. Bare ? markers
// are bound to args in order.
func (r *GenericRepository[T]) FindWhere(ctx context.Context, where string, args ...any) ([]*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	text := r.selectText(where)

	var out []*T
	err := r.withSession(ctx, func(ctx context.Context, s *session.Session) error {
		q := s.CreateQuery(text).
			SetFirstResult(r.offset).
			SetMaxResults(r.limit).
			SetCacheable(r.cached)
		for i, a := range args {
			q.SetParameter(i+1, a)
		}
		var err error
		out, err = session.ResultList[*T](ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.meta.Name, err)
	}
	return out, nil
}

// First finds the first record matching a condition, or nil
func (r *GenericRepository[T]) First(ctx context.Context, where string, args ...any) (*T, error) {
	repo := *r
	repo.limit = 1
	found, err := repo.FindWhere(ctx, where, args...)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Count counts all records
func (r *GenericRepository[T]) Count(ctx context.Context) (int64, error) {
	text := fmt.Sprintf("SELECT count(%s.%s) FROM %s %s", Alias, r.meta.ID.Property, r.meta.Name, Alias)

	var n int64
	err := r.withSession(ctx, func(ctx context.Context, s *session.Session) error {
		var err error
		n, err = session.SingleResult[int64](ctx, s.CreateQuery(text).SetCacheable(r.cached))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.meta.Name, err)
	}
	return n, nil
}

// Exists checks if a record exists by ID
func (r *GenericRepository[T]) Exists(ctx context.Context, id any) (bool, error) {
	found, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}

// selectText builds the object query for the current modifiers
func (r *GenericRepository[T]) selectText(where string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s %s", Alias, r.meta.Name, Alias)
	for _, p := range r.preloads {
		fmt.Fprintf(&b, " LEFT JOIN FETCH %s.%s", Alias, p)
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if r.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(r.orderBy)
	}
	return b.String()
}

// ============================================================================
// QUERY MODIFIERS - Chainable Operations
// ============================================================================

// Preload fetches associations together with the records, so they remain
// readable after the call returns
func (r *GenericRepository[T]) Preload(associations ...string) Repository[T] {
	newRepo := *r
	newRepo.preloads = append(append([]string(nil), r.preloads...), associations...)
	for _, a := range associations {
		rel := r.meta.Relation(a)
		if rel == nil {
			newRepo.err = fmt.Errorf("%w: %s has no association %q", mapping.ErrInvalidMapping, r.meta.Name, a)
			break
		}
	}
	return &newRepo
}

// Order specifies ordering, as in "e.age DESC"
func (r *GenericRepository[T]) Order(orderBy string) Repository[T] {
	newRepo := *r
	newRepo.orderBy = orderBy
	return &newRepo
}

// Limit specifies limit
func (r *GenericRepository[T]) Limit(limit int) Repository[T] {
	if limit < 0 {
		limit = 0
	}
	newRepo := *r
	newRepo.limit = limit
	return &newRepo
}

// Offset specifies offset
func (r *GenericRepository[T]) Offset(offset int) Repository[T] {
	if offset < 0 {
		offset = 0
	}
	newRepo := *r
	newRepo.offset = offset
	return &newRepo
}

// Cached turns the query cache on or off for FindWhere, FindAll and Count
func (r *GenericRepository[T]) Cached(cached bool) Repository[T] {
	newRepo := *r
	newRepo.cached = cached
	return &newRepo
}

// ============================================================================
// WRITE OPERATIONS - Transactional, Evicting on Commit
// ============================================================================

// Create persists a new record, cascading along associations marked for it
func (r *GenericRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.CreateBatch(ctx, []*T{entity})
}

// Update merges the state of entity into its record and returns the
// merged copy. An entity without a record is inserted.
func (r *GenericRepository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	out, err := r.UpdateBatch(ctx, []*T{entity})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Delete deletes a record by ID, cascading along associations marked for it
func (r *GenericRepository[T]) Delete(ctx context.Context, id any) error {
	if id == nil {
		return fmt.Errorf("id cannot be nil")
	}
	err := r.inTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		found, err := session.Find[T](ctx, s, id)
		if err != nil {
			return err
		}
		if found == nil {
			return fmt.Errorf("%w: %s#%v", session.ErrEntityNotFound, r.meta.Name, id)
		}
		return s.Remove(ctx, found)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s#%v: %w", r.meta.Name, id, err)
	}
	r.logger.Debug().Interface("id", id).Msg("Deleted")
	return nil
}

// CreateBatch persists multiple records in one transaction
func (r *GenericRepository[T]) CreateBatch(ctx context.Context, entities []*T) error {
	if err := checkEntities(entities); err != nil {
		return err
	}
	err := r.inTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		for _, e := range entities {
			if err := s.Persist(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.meta.Name, err)
	}
	r.logger.Debug().Int("count", len(entities)).Msg("Created")
	return nil
}

// UpdateBatch merges multiple records in one transaction
func (r *GenericRepository[T]) UpdateBatch(ctx context.Context, entities []*T) ([]*T, error) {
	if err := checkEntities(entities); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(entities))
	err := r.inTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		out = out[:0]
		for _, e := range entities {
			merged, err := session.Merge(ctx, s, e)
			if err != nil {
				return err
			}
			out = append(out, merged)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", r.meta.Name, err)
	}
	r.logger.Debug().Int("count", len(entities)).Msg("Updated")
	return out, nil
}

func checkEntities[T any](entities []*T) error {
	if len(entities) == 0 {
		return fmt.Errorf("entities cannot be empty")
	}
	for i, e := range entities {
		if e == nil {
			return fmt.Errorf("entity %d cannot be nil", i)
		}
	}
	return nil
}

// ============================================================================
// CACHE MANAGEMENT
// ============================================================================

// InvalidateCache evicts every cached instance of the entity and the
// cached queries reading its table
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	c := r.factory.Cache()
	c.EvictEntities(ctx, r.meta)
	c.InvalidateTables(ctx, r.meta.Table)
	return nil
}

// WarmCache loads every record, filling the entity region when the entity
// is cacheable, and caches the count
func (r *GenericRepository[T]) WarmCache(ctx context.Context) error {
	plain := *r
	plain.preloads, plain.orderBy, plain.limit, plain.offset, plain.err = nil, "", 0, 0, nil
	if _, err := plain.FindAll(ctx); err != nil {
		return err
	}
	_, err := plain.Count(ctx)
	return err
}
