// Package persist4go maps Go structs onto relational tables with a unit of
// work, an identity map, lazy associations, an object query language and a
// second-level cache backed by memory or Redis.
package persist4go

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/redis"
	"github.com/ammar0144/persist4go/pkg/repository"
	"github.com/ammar0144/persist4go/pkg/session"
)

// Config represents a persistence unit: where rows live, where the
// second-level cache lives, and how sessions behave
type Config struct {
	Database *db.Config `json:"database" yaml:"database"`

	// Redis backs the second-level cache; nil keeps it in process
	Redis *redis.Config `json:"redis,omitempty" yaml:"redis,omitempty"`

	Unit session.Config `json:"unit" yaml:"unit"`
}

// DefaultConfig returns a unit on a local SQLite file with an in-process cache
func DefaultConfig(path string) Config {
	return Config{
		Database: db.NewSQLiteConfig(path),
		Unit:     session.DefaultConfig(),
	}
}

// LoadConfig reads a JSON unit configuration. Missing sections keep the
// defaults of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := Config{Unit: session.DefaultConfig()}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Type aliases for the main API
type (
	Factory   = session.Factory
	Session   = session.Session
	Query     = session.Query
	Registry  = mapping.Registry
	FlushMode = session.FlushMode

	Ref[T any] = mapping.Ref[T]
	Set[T any] = mapping.Set[T]

	Repository[T any] = repository.Repository[T]
)

// RefTo returns a reference holding v
func RefTo[T any](v *T) Ref[T] {
	return mapping.RefTo(v)
}

// SetOf returns an initialized collection holding items
func SetOf[T any](items ...*T) Set[T] {
	return mapping.SetOf(items...)
}

// Open registers the entities, connects the database and cache store, and
// applies the configured schema action
func Open(ctx context.Context, cfg Config, entities ...any) (*Factory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}
	reg, err := mapping.NewRegistry(entities...)
	if err != nil {
		return nil, err
	}

	dbm, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, err
	}

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Redis != nil {
		rm, err := redis.NewManager(cfg.Redis)
		if err != nil {
			dbm.Close()
			return nil, err
		}
		if err := rm.Ping(ctx); err != nil {
			rm.Close()
			dbm.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		store = rm
	}

	f, err := session.NewFactory(ctx, reg, dbm, store, cfg.Unit)
	if err != nil {
		store.Close()
		dbm.Close()
		return nil, err
	}
	return f, nil
}

// Find returns the managed instance of T with the given key, or nil
func Find[T any](ctx context.Context, s *Session, id any) (*T, error) {
	return session.Find[T](ctx, s, id)
}

// GetReference returns an unloaded reference to the row of T
func GetReference[T any](s *Session, id any) (*Ref[T], error) {
	return session.GetReference[T](s, id)
}

// Merge copies entity onto its managed instance
func Merge[T any](ctx context.Context, s *Session, entity *T) (*T, error) {
	return session.Merge(ctx, s, entity)
}

// ResultList runs q and converts every result to T
func ResultList[T any](ctx context.Context, q *Query) ([]T, error) {
	return session.ResultList[T](ctx, q)
}

// SingleResult runs q and converts its only result to T
func SingleResult[T any](ctx context.Context, q *Query) (T, error) {
	return session.SingleResult[T](ctx, q)
}

// NewRepository creates a typed repository over the factory
func NewRepository[T any](f *Factory) (Repository[T], error) {
	return repository.NewGenericRepository[T](f)
}
