package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/robfig/cron/v3"
)

// warmTimeout bounds one scheduled warm-up run
const warmTimeout = 5 * time.Minute

func (f *Factory) startWarmer() error {
	f.warmer = cron.New()
	_, err := f.warmer.AddFunc(f.cfg.Warmer.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()
		if _, err := f.WarmCache(ctx); err != nil {
			f.logger.Error().Err(err).Msg("Cache warm-up failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cache warmer: %w", err)
	}
	f.warmer.Start()
	f.logger.Info().Str("schedule", f.cfg.Warmer.Schedule).Msg("Cache warmer started")
	return nil
}

// warmTargets resolves the configured entity names, or every cached entity
func (f *Factory) warmTargets() ([]*mapping.Entity, error) {
	if len(f.cfg.Warmer.Entities) == 0 {
		var out []*mapping.Entity
		for _, e := range f.registry.Entities() {
			if f.cache.Caches(e) {
				out = append(out, e)
			}
		}
		return out, nil
	}
	out := make([]*mapping.Entity, 0, len(f.cfg.Warmer.Entities))
	for _, name := range f.cfg.Warmer.Entities {
		e, err := f.registry.ByName(name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// WarmCache loads every row of the warmed entities into the entity region
// and returns the number of rows stored
func (f *Factory) WarmCache(ctx context.Context) (int, error) {
	targets, err := f.warmTargets()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, meta := range targets {
		if !f.cache.Caches(meta) {
			f.logger.Debug().Str("entity", meta.Name).Msg("Entity is not cacheable, skipping warm-up")
			continue
		}
		stmt, args := db.NewBuilder(meta.Table).Select(meta.Columns()...).BuildSelect()
		rows, err := db.QueryAll(ctx, f.db.Executor(nil), stmt, args...)
		if err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", meta.Name, err)
		}
		f.stats.selects.Add(1)
		for _, row := range rows {
			state, err := normalizeState(meta, row)
			if err != nil {
				return loaded, err
			}
			f.cache.PutEntity(ctx, meta, state[idIndex(meta)], state)
			loaded++
		}
	}
	f.logger.Info().Int("rows", loaded).Msg("Cache warmed")
	return loaded, nil
}
