package persist4go

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/session"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "unit.db"))

	f, err := Open(ctx, cfg, model.All()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	repo, err := NewRepository[model.Customer](f)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	c := &model.Customer{LastName: "AA", Age: 10}
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s := f.NewSession()
	defer s.Close()
	found, err := Find[model.Customer](ctx, s, c.ID)
	if err != nil || found == nil || found.LastName != "AA" {
		t.Fatalf("Find = %v, %v", found, err)
	}
	names, err := ResultList[string](ctx, s.CreateQuery("SELECT c.lastName FROM Customer c"))
	if err != nil || len(names) != 1 || names[0] != "AA" {
		t.Errorf("names = %v, %v", names, err)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{}); err == nil {
		t.Error("missing database config should be rejected")
	}

	type broken struct {
		Name string
	}
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "unit.db"))
	if _, err := Open(ctx, cfg, &broken{}); err == nil {
		t.Error("entity without an id should be rejected")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit.json")
	data := `{
		"database": {"driver": "sqlite", "path": "shop.db", "max_open_conns": 1},
		"unit": {"flush_mode": "COMMIT", "warmer": {"schedule": "@every 10m"}}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database == nil || cfg.Database.Driver != "sqlite" || cfg.Database.Path != "shop.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Unit.FlushMode != session.FlushCommit || cfg.Unit.Warmer.Schedule != "@every 10m" {
		t.Errorf("unit = %+v", cfg.Unit)
	}
	// sections left out keep their defaults
	if cfg.Unit.SchemaAction != session.SchemaCreate || !cfg.Unit.Cache.Enabled {
		t.Errorf("defaults lost: %+v", cfg.Unit)
	}
	if cfg.Redis != nil {
		t.Error("redis should stay unset")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}
