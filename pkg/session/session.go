package session

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/identity"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/rs/zerolog"
)

// eviction is a second-level cache entry made stale by a flushed write
type eviction struct {
	meta *mapping.Entity
	id   any
}

// cachePut is entity state read inside a transaction, published on commit
type cachePut struct {
	meta  *mapping.Entity
	id    any
	state []any
}

// Session is a unit of work. It owns one identity map and at most one
// transaction, and is not safe for concurrent use.
type Session struct {
	id        string
	factory   *Factory
	identity  *identity.Map
	tx        *sql.Tx
	closed    bool
	flushMode FlushMode
	logger    zerolog.Logger

	// action queues, executed by flush in order
	inserts []*identity.Entry
	deletes []*identity.Entry

	// applied to the second-level cache on commit
	evictions []eviction
	puts      []cachePut
	regions   []*mapping.Entity
	clearAll  bool
	written   map[string]bool
}

func newSession(f *Factory, id string, logger zerolog.Logger) *Session {
	return &Session{
		id:        id,
		factory:   f,
		identity:  identity.New(),
		flushMode: f.cfg.FlushMode,
		logger:    logger,
		written:   map[string]bool{},
	}
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// Factory returns the factory that opened the session
func (s *Session) Factory() *Factory {
	return s.factory
}

// SetFlushMode overrides the factory's flush mode for this session
func (s *Session) SetFlushMode(mode FlushMode) {
	s.flushMode = mode
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) requireTx() error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrTransactionRequired
	}
	return nil
}

// exec returns the statement executor: the transaction when one is open
func (s *Session) exec() db.Executor {
	if s.tx != nil {
		return s.factory.db.Executor(s.tx)
	}
	return s.factory.db.Executor(nil)
}

func (s *Session) queryRows(ctx context.Context, stmt string, args ...any) ([][]any, error) {
	rows, err := db.QueryAll(ctx, s.exec(), stmt, args...)
	if err != nil {
		return nil, err
	}
	s.factory.stats.selects.Add(1)
	return rows, nil
}

func (s *Session) execute(ctx context.Context, counter func(), stmt string, args ...any) (sql.Result, error) {
	res, err := s.exec().ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	if counter != nil {
		counter()
	}
	return res, nil
}

func (s *Session) countInsert() { s.factory.stats.inserts.Add(1) }
func (s *Session) countUpdate() { s.factory.stats.updates.Add(1) }
func (s *Session) countDelete() { s.factory.stats.deletes.Add(1) }

// ============================================================================
// Transactions
// ============================================================================

// Begin starts the session's transaction
func (s *Session) Begin(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx != nil {
		return ErrTransactionActive
	}
	tx, err := s.factory.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	s.tx = tx
	s.factory.stats.transactions.Add(1)
	s.logger.Debug().Msg("Transaction started")
	return nil
}

// InTransaction reports whether a transaction is open
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// Commit flushes pending changes, commits, and then evicts the cache
// entries the transaction made stale and publishes the state it read.
// A failed flush rolls back.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		s.rollback()
		return err
	}
	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		s.detachAll()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.tx = nil
	s.applyEvictions(ctx)
	s.logger.Debug().Msg("Transaction committed")
	return nil
}

// Rollback aborts the transaction and detaches every managed instance
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	return s.rollback()
}

func (s *Session) rollback() error {
	err := s.tx.Rollback()
	s.tx = nil
	s.detachAll()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to rollback transaction")
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	s.logger.Debug().Msg("Transaction rolled back")
	return nil
}

// Transaction runs fn between Begin and Commit, rolling back on error
func (s *Session) Transaction(ctx context.Context, fn func(*Session) error) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if s.tx != nil {
			s.rollback()
		}
		return err
	}
	return s.Commit(ctx)
}

func (s *Session) applyEvictions(ctx context.Context) {
	c := s.factory.cache
	if s.clearAll {
		c.EvictAll(ctx)
	}
	for _, ev := range s.evictions {
		c.EvictEntity(ctx, ev.meta, ev.id)
	}
	for _, meta := range s.regions {
		c.EvictEntities(ctx, meta)
	}
	if len(s.written) > 0 {
		tables := make([]string, 0, len(s.written))
		for t := range s.written {
			tables = append(tables, t)
		}
		c.InvalidateTables(ctx, tables...)
	}
	// state read after a write to its table may not match what was committed
	for _, p := range s.puts {
		if !s.clearAll && !s.written[p.meta.Table] {
			c.PutEntity(ctx, p.meta, p.id, p.state)
		}
	}
	s.evictions = nil
	s.puts = nil
	s.regions = nil
	s.clearAll = false
	s.written = map[string]bool{}
}

func (s *Session) evict(meta *mapping.Entity, id any) {
	s.evictions = append(s.evictions, eviction{meta: meta, id: id})
	s.written[meta.Table] = true
}

// ============================================================================
// Persistence context
// ============================================================================

// Contains reports whether entity is managed by this session
func (s *Session) Contains(entity any) bool {
	return s.identity.Contains(entity)
}

// Clear detaches every managed instance and drops queued changes
func (s *Session) Clear() {
	s.detachAll()
}

func (s *Session) detachAll() {
	s.identity.Clear()
	s.inserts = nil
	s.deletes = nil
	s.evictions = nil
	s.puts = nil
	s.regions = nil
	s.clearAll = false
	s.written = map[string]bool{}
}

// cacheEntity stores loaded state in the second-level cache. Inside a
// transaction the put waits for commit so other sessions never see
// uncommitted rows.
func (s *Session) cacheEntity(ctx context.Context, meta *mapping.Entity, id any, state []any) {
	if !s.factory.cache.Caches(meta) {
		return
	}
	if s.tx == nil {
		s.factory.cache.PutEntity(ctx, meta, id, state)
		return
	}
	if s.clearAll || s.written[meta.Table] {
		return
	}
	s.puts = append(s.puts, cachePut{meta: meta, id: id, state: state})
}

// Detach stops managing entity; queued changes to it are dropped.
// Detach cascades along associations marked for it.
func (s *Session) Detach(entity any) error {
	if err := s.check(); err != nil {
		return err
	}
	entry, ok := s.identity.Lookup(entity)
	if !ok {
		return nil
	}
	s.untrack(entry)
	return s.cascade(entry, mapping.CascadeDetach, false, func(target any) error {
		return s.Detach(target)
	})
}

// untrack removes an entry from the identity map and the action queues
func (s *Session) untrack(entry *identity.Entry) {
	s.identity.Remove(entry.Instance)
	s.inserts = dropEntry(s.inserts, entry)
	s.deletes = dropEntry(s.deletes, entry)
}

func dropEntry(queue []*identity.Entry, entry *identity.Entry) []*identity.Entry {
	for i, e := range queue {
		if e == entry {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}

// Close rolls back an open transaction and detaches everything. Unloaded
// associations of formerly managed instances can no longer be loaded.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.rollback()
	}
	s.detachAll()
	s.closed = true
	s.logger.Debug().Msg("Session closed")
	return err
}

// cascade applies fn to the targets of entry's associations marked with op.
// Unloaded associations are skipped unless load is set.
func (s *Session) cascade(entry *identity.Entry, op mapping.Cascade, load bool, fn func(any) error) error {
	v, err := entry.Meta.Value(entry.Instance)
	if err != nil {
		return err
	}
	for _, rel := range entry.Meta.Relations {
		if !rel.Cascade.Has(op) {
			continue
		}
		targets, err := associated(entry.Meta, v, rel, load)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := fn(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// associated returns the in-memory targets of one association
func associated(meta *mapping.Entity, v reflect.Value, rel *mapping.Relation, load bool) ([]any, error) {
	if rel.ToOne() {
		ref := meta.ToOneOf(v, rel)
		target, loaded := ref.Peek()
		if !loaded && load {
			var err error
			if target, err = ref.Resolve(); err != nil {
				return nil, err
			}
		}
		if target == nil {
			return nil, nil
		}
		return []any{target}, nil
	}
	set := meta.ToManyOf(v, rel)
	if !set.Initialized() && load {
		return set.Resolve()
	}
	return set.Elements(), nil
}
