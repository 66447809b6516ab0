package session

import (
	"fmt"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/robfig/cron/v3"
)

// SchemaAction is applied to the mapped tables when a factory starts
type SchemaAction string

const (
	SchemaNone          SchemaAction = "none"
	SchemaCreate        SchemaAction = "create"
	SchemaDropAndCreate SchemaAction = "drop-and-create"
	SchemaDrop          SchemaAction = "drop"
)

// FlushMode decides when pending changes reach the database
type FlushMode string

const (
	// FlushAuto flushes before every query run inside a transaction
	FlushAuto FlushMode = "AUTO"
	// FlushCommit flushes only on Flush and Commit
	FlushCommit FlushMode = "COMMIT"
)

// Config holds unit-of-work configuration
type Config struct {
	SchemaAction SchemaAction `json:"schema_action" yaml:"schema_action"`
	FlushMode    FlushMode    `json:"flush_mode" yaml:"flush_mode"`

	// Cache configures the second-level cache
	Cache cache.Config `json:"cache" yaml:"cache"`

	// Warmer periodically loads cacheable entities into the cache
	Warmer WarmerConfig `json:"warmer" yaml:"warmer"`
}

// WarmerConfig schedules the cache warmer
type WarmerConfig struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@every 10m"; empty disables the warmer
	Schedule string `json:"schedule" yaml:"schedule"`

	// Entities names the entities to load; empty means every cacheable one
	Entities []string `json:"entities" yaml:"entities"`
}

// DefaultConfig creates missing tables and caches selectively
func DefaultConfig() Config {
	return Config{
		SchemaAction: SchemaCreate,
		FlushMode:    FlushAuto,
		Cache:        cache.DefaultConfig(),
	}
}

// Validate checks if the unit-of-work configuration is valid
func (c Config) Validate() error {
	switch c.SchemaAction {
	case "", SchemaNone, SchemaCreate, SchemaDropAndCreate, SchemaDrop:
	default:
		return fmt.Errorf("unknown schema action %q", c.SchemaAction)
	}
	switch c.FlushMode {
	case "", FlushAuto, FlushCommit:
	default:
		return fmt.Errorf("unknown flush mode %q", c.FlushMode)
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Warmer.Schedule != "" {
		if _, err := cron.ParseStandard(c.Warmer.Schedule); err != nil {
			return fmt.Errorf("invalid warmer schedule: %w", err)
		}
	}
	return nil
}
