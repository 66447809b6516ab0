// Package session implements the unit of work: sessions track managed
// instances in an identity map, queue writes until flush, load associations
// on demand and run object queries against the mapped schema.
package session

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Table generator layout
const (
	generatorTable       = "JPA_ID_GENERATORS"
	generatorNameColumn  = "PK_NAME"
	generatorValueColumn = "PK_VALUE"
)

// Factory creates sessions over one database and one second-level cache.
// It is safe for concurrent use.
type Factory struct {
	registry *mapping.Registry
	db       *db.Manager
	cache    *cache.SecondLevel
	cfg      Config
	stats    *Statistics
	logger   zerolog.Logger

	// queries caches parsed statements by query text
	queries sync.Map

	warmer *cron.Cron
	closed atomic.Bool
}

// NewFactory applies the configured schema action and starts the cache
// warmer. A nil store disables the second-level cache.
func NewFactory(ctx context.Context, reg *mapping.Registry, dbm *db.Manager, store cache.Store, cfg Config) (*Factory, error) {
	if reg == nil || dbm == nil {
		return nil, fmt.Errorf("registry and database manager are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.FlushMode == "" {
		cfg.FlushMode = FlushAuto
	}

	logger := log.With().Str("component", "session").Logger()
	f := &Factory{
		registry: reg,
		db:       dbm,
		cache:    cache.NewSecondLevel(store, cfg.Cache, logger),
		cfg:      cfg,
		stats:    &Statistics{},
		logger:   logger,
	}

	switch cfg.SchemaAction {
	case SchemaCreate:
		if err := f.CreateSchema(ctx); err != nil {
			return nil, err
		}
	case SchemaDropAndCreate:
		if err := f.DropSchema(ctx); err != nil {
			return nil, err
		}
		if err := f.CreateSchema(ctx); err != nil {
			return nil, err
		}
	case SchemaDrop:
		if err := f.DropSchema(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Warmer.Schedule != "" {
		if err := f.startWarmer(); err != nil {
			return nil, err
		}
	}

	f.logger.Debug().
		Int("entities", len(reg.Entities())).
		Str("schema_action", string(cfg.SchemaAction)).
		Str("flush_mode", string(cfg.FlushMode)).
		Msg("Session factory ready")
	return f, nil
}

// NewSession opens a unit of work
func (f *Factory) NewSession() *Session {
	id := uuid.NewString()
	f.stats.sessions.Add(1)
	return newSession(f, id, f.logger.With().Str("session", id).Logger())
}

// Registry returns the entity registry
func (f *Factory) Registry() *mapping.Registry {
	return f.registry
}

// Database returns the database manager
func (f *Factory) Database() *db.Manager {
	return f.db
}

// Cache returns the second-level cache
func (f *Factory) Cache() *cache.SecondLevel {
	return f.cache
}

// Config returns the unit-of-work configuration
func (f *Factory) Config() Config {
	return f.cfg
}

// Statistics returns the statement and load counters
func (f *Factory) Statistics() StatisticsSnapshot {
	return f.stats.Snapshot()
}

// ResetStatistics zeroes the statement and cache counters
func (f *Factory) ResetStatistics() {
	f.stats.Reset()
	f.cache.ResetMetrics()
}

// CacheMetrics returns the second-level cache counters
func (f *Factory) CacheMetrics() cache.MetricsSnapshot {
	return f.cache.Metrics()
}

// Close stops the warmer and closes the cache and the database
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if f.warmer != nil {
		ctx := f.warmer.Stop()
		<-ctx.Done()
	}
	if err := f.cache.Close(); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to close cache store")
	}
	return f.db.Close()
}

// parse returns the statement for a query text, parsing it once
func (f *Factory) parse(text string) (query.Statement, error) {
	if stmt, ok := f.queries.Load(text); ok {
		return stmt.(query.Statement), nil
	}
	stmt, err := query.Parse(text)
	if err != nil {
		return nil, err
	}
	f.queries.Store(text, stmt)
	return stmt, nil
}

// ============================================================================
// Schema
// ============================================================================

// tableDefs lists the mapped tables, plus the generator table when an
// entity draws its ids from it
func (f *Factory) tableDefs() []db.TableDef {
	defs := f.registry.TableDefs()
	for _, e := range f.registry.Entities() {
		if e.Generation == mapping.GenerateTable {
			defs = append(defs, db.TableDef{
				Name: generatorTable,
				Columns: []db.ColumnDef{
					{Name: generatorNameColumn, Type: reflect.TypeOf(""), Size: 50, NotNull: true, PrimaryKey: true},
					{Name: generatorValueColumn, Type: reflect.TypeOf(int64(0))},
				},
				PrimaryKey: []string{generatorNameColumn},
			})
			break
		}
	}
	return defs
}

// CreateSchema creates every missing table
func (f *Factory) CreateSchema(ctx context.Context) error {
	exec := f.db.Executor(nil)
	for _, def := range f.tableDefs() {
		stmt, err := db.BuildCreateTable(f.db.Dialect(), def)
		if err != nil {
			return fmt.Errorf("failed to build table %s: %w", def.Name, err)
		}
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.Name, err)
		}
	}
	f.logger.Info().Msg("Schema created")
	return nil
}

// DropSchema drops every mapped table, referencing tables first
func (f *Factory) DropSchema(ctx context.Context) error {
	exec := f.db.Executor(nil)
	defs := f.tableDefs()
	for i := len(defs) - 1; i >= 0; i-- {
		if _, err := exec.ExecContext(ctx, db.BuildDropTable(defs[i].Name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", defs[i].Name, err)
		}
	}
	f.cache.EvictAll(ctx)
	f.logger.Info().Msg("Schema dropped")
	return nil
}
