package repository

import (
	"context"
)

// Repository defines the generic repository interface. Every call runs in
// its own session, so returned instances are detached: associations that
// were not preloaded cannot be loaded afterwards.
type Repository[T any] interface {
	// Queries (Read Operations - Cache-First)
	FindByID(ctx context.Context, id any) (*T, error)
	FindAll(ctx context.Context) ([]*T, error)
	FindWhere(ctx context.Context, where string, args ...any) ([]*T, error)
	First(ctx context.Context, where string, args ...any) (*T, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id any) (bool, error)

	// Query Modifiers (return a new repository)
	Preload(associations ...string) Repository[T]
	Order(orderBy string) Repository[T]
	Limit(limit int) Repository[T]
	Offset(offset int) Repository[T]
	Cached(cached bool) Repository[T]

	// Commands (Write Operations - one transaction each)
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) (*T, error)
	Delete(ctx context.Context, id any) error

	// Batch Operations (one transaction per batch)
	CreateBatch(ctx context.Context, entities []*T) error
	UpdateBatch(ctx context.Context, entities []*T) ([]*T, error)

	// Cache Management
	InvalidateCache(ctx context.Context) error
	WarmCache(ctx context.Context) error
}
