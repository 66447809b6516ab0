package session

import (
	"context"
	"testing"

	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

func findIn(t *testing.T, f *Factory, id int64) *model.Customer {
	t.Helper()
	s := f.NewSession()
	defer s.Close()
	c, err := Find[model.Customer](context.Background(), s, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	return c
}

func TestSecondLevelCacheSharesEntityState(t *testing.T) {
	f := newFactory(t)
	id := seedCustomer(t, f, "Tom", 1, "O-1")
	ctx := context.Background()

	f.ResetStatistics()
	findIn(t, f, id)
	if st := f.Statistics(); st.Selects != 1 || st.EntityLoads != 1 {
		t.Fatalf("first find: selects = %d, loads = %d", st.Selects, st.EntityLoads)
	}
	if m := f.CacheMetrics(); m.EntityPuts != 1 {
		t.Errorf("first find: entity puts = %d, want 1", m.EntityPuts)
	}

	f.ResetStatistics()
	c := findIn(t, f, id)
	if st := f.Statistics(); st.Selects != 0 || st.CacheLoads != 1 {
		t.Errorf("second find: selects = %d, cache loads = %d; want 0, 1", st.Selects, st.CacheLoads)
	}
	if c.LastName != "Tom" || c.Age != 1 {
		t.Errorf("cached state = %v", c)
	}

	meta, _ := mapping.EntityOf[model.Customer](f.Registry())
	if !f.Cache().ContainsEntity(ctx, meta, id) {
		t.Error("customer should be in the entity region")
	}
	if m := f.CacheMetrics(); m.CacheHits == 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestSecondLevelCacheSelective(t *testing.T) {
	f := newFactory(t)
	seedCustomer(t, f, "Tom", 1, "O-1")

	orders, _ := mapping.EntityOf[model.Order](f.Registry())
	if f.Cache().Caches(orders) {
		t.Fatal("orders are not declared cacheable")
	}

	f.ResetStatistics()
	for range 2 {
		s := f.NewSession()
		if _, err := Find[model.Order](context.Background(), s, int64(1)); err != nil {
			t.Fatalf("Find: %v", err)
		}
		s.Close()
	}
	if st := f.Statistics(); st.Selects != 2 {
		t.Errorf("selects = %d, want 2", st.Selects)
	}
}

func TestSecondLevelCacheModeAll(t *testing.T) {
	f := newFactory(t, func(c *Config) { c.Cache.Mode = cache.ModeAll })
	seedCustomer(t, f, "Tom", 1, "O-1")

	f.ResetStatistics()
	for range 2 {
		s := f.NewSession()
		if _, err := Find[model.Order](context.Background(), s, int64(1)); err != nil {
			t.Fatalf("Find: %v", err)
		}
		s.Close()
	}
	if st := f.Statistics(); st.Selects != 1 || st.CacheLoads != 1 {
		t.Errorf("selects = %d, cache loads = %d; want 1, 1", st.Selects, st.CacheLoads)
	}
}

func TestSecondLevelCacheDisabled(t *testing.T) {
	f := newFactory(t, func(c *Config) { c.Cache.Enabled = false })
	id := seedCustomer(t, f, "Tom", 1)

	f.ResetStatistics()
	findIn(t, f, id)
	findIn(t, f, id)
	if st := f.Statistics(); st.Selects != 2 || st.CacheLoads != 0 {
		t.Errorf("selects = %d, cache loads = %d; want 2, 0", st.Selects, st.CacheLoads)
	}
}

func TestSecondLevelCacheEvictsOnCommit(t *testing.T) {
	f := newFactory(t)
	id := seedCustomer(t, f, "Tom", 1)
	ctx := context.Background()
	meta, _ := mapping.EntityOf[model.Customer](f.Registry())

	findIn(t, f, id)

	// a rolled back change leaves the cache alone
	s := f.NewSession()
	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c, err := Find[model.Customer](ctx, s, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	c.LastName = "Jerry"
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	s.Close()
	if !f.Cache().ContainsEntity(ctx, meta, id) {
		t.Fatal("rollback should not evict")
	}

	inTx(t, f, func(s *Session) error {
		c, err := Find[model.Customer](ctx, s, id)
		if err != nil {
			return err
		}
		c.LastName = "Jerry"
		return nil
	})
	if f.Cache().ContainsEntity(ctx, meta, id) {
		t.Fatal("commit should evict the updated customer")
	}

	f.ResetStatistics()
	if c := findIn(t, f, id); c.LastName != "Jerry" {
		t.Errorf("lastName = %q, want the committed value", c.LastName)
	}
	if st := f.Statistics(); st.Selects != 1 {
		t.Errorf("selects = %d, want a reload", st.Selects)
	}
}

func TestSecondLevelCacheWaitsForCommit(t *testing.T) {
	f := newFactory(t)
	id := seedCustomer(t, f, "Tom", 1)
	ctx := context.Background()
	meta, _ := mapping.EntityOf[model.Customer](f.Registry())

	s := f.NewSession()
	defer s.Close()
	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Find[model.Customer](ctx, s, id); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if f.Cache().ContainsEntity(ctx, meta, id) {
		t.Fatal("state read in an open transaction must not be shared yet")
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !f.Cache().ContainsEntity(ctx, meta, id) {
		t.Error("commit should publish the state read")
	}
}

func TestSecondLevelCacheSkipsUncommittedWrites(t *testing.T) {
	ctx := context.Background()

	// bulk update, read back, then end the transaction with finish
	ghost := func(t *testing.T, f *Factory, id int64, finish func(*Session) error) {
		t.Helper()
		s := f.NewSession()
		defer s.Close()
		if err := s.Begin(ctx); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		n, err := s.CreateQuery("UPDATE Customer c SET c.lastName = ? WHERE c.id = ?").
			SetParameter(1, "Ghost").SetParameter(2, id).ExecuteUpdate(ctx)
		if err != nil || n != 1 {
			t.Fatalf("ExecuteUpdate = %d, %v", n, err)
		}
		c, err := Find[model.Customer](ctx, s, id)
		if err != nil || c.LastName != "Ghost" {
			t.Fatalf("Find in transaction = %v, %v", c, err)
		}
		meta, _ := mapping.EntityOf[model.Customer](f.Registry())
		if f.Cache().ContainsEntity(ctx, meta, id) {
			t.Fatal("uncommitted row reached the shared cache")
		}
		if err := finish(s); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}

	t.Run("rollback", func(t *testing.T) {
		f := newFactory(t)
		id := seedCustomer(t, f, "Tom", 1)
		ghost(t, f, id, func(s *Session) error { return s.Rollback(ctx) })

		f.ResetStatistics()
		if c := findIn(t, f, id); c.LastName != "Tom" {
			t.Errorf("lastName = %q after rollback, want Tom", c.LastName)
		}
		if st := f.Statistics(); st.CacheLoads != 0 {
			t.Errorf("cache loads = %d, want 0", st.CacheLoads)
		}
	})

	t.Run("commit", func(t *testing.T) {
		f := newFactory(t)
		id := seedCustomer(t, f, "Tom", 1)
		findIn(t, f, id)
		ghost(t, f, id, func(s *Session) error { return s.Commit(ctx) })

		f.ResetStatistics()
		if c := findIn(t, f, id); c.LastName != "Ghost" {
			t.Errorf("lastName = %q after commit, want Ghost", c.LastName)
		}
		if st := f.Statistics(); st.Selects != 1 {
			t.Errorf("selects = %d, want a reload from the database", st.Selects)
		}
	})
}

func TestRefreshBypassesCache(t *testing.T) {
	f := newFactory(t)
	id := seedCustomer(t, f, "Tom", 1)
	ctx := context.Background()
	findIn(t, f, id)

	s := f.NewSession()
	defer s.Close()
	c, err := Find[model.Customer](ctx, s, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	f.ResetStatistics()
	if err := s.Refresh(ctx, c); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if st := f.Statistics(); st.Selects != 1 {
		t.Errorf("refresh selects = %d, want 1", st.Selects)
	}
}

func TestQueryCache(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()

	run := func(cacheable bool) []*model.Customer {
		t.Helper()
		s := f.NewSession()
		defer s.Close()
		got, err := ResultList[*model.Customer](ctx,
			s.CreateQuery("FROM Customer c WHERE c.age > ? ORDER BY c.age").SetParameter(1, 15).SetCacheable(cacheable))
		if err != nil {
			t.Fatalf("ResultList: %v", err)
		}
		return got
	}

	run(true)
	f.ResetStatistics()
	got := run(true)
	if names := lastNames(t, got); !equalStrings(names, []string{"BB", "CC"}) {
		t.Fatalf("cached result = %v", names)
	}
	if st := f.Statistics(); st.Selects != 0 {
		t.Errorf("cached query issued %d selects", st.Selects)
	}
	if m := f.CacheMetrics(); m.QueryHits == 0 {
		t.Error("query hit not recorded")
	}

	f.ResetStatistics()
	run(false)
	if st := f.Statistics(); st.Selects != 1 {
		t.Errorf("uncached query selects = %d, want 1", st.Selects)
	}

	// a committed write to the table invalidates the cached result
	inTx(t, f, func(s *Session) error {
		return s.Persist(ctx, newCustomer("DD", 40))
	})
	f.ResetStatistics()
	got = run(true)
	if names := lastNames(t, got); !equalStrings(names, []string{"BB", "CC", "DD"}) {
		t.Errorf("result after write = %v", names)
	}
	if st := f.Statistics(); st.Selects != 1 {
		t.Errorf("invalidated query selects = %d, want 1", st.Selects)
	}
}

func TestQueryCacheScalars(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()

	count := func() int64 {
		t.Helper()
		s := f.NewSession()
		defer s.Close()
		n, err := SingleResult[int64](ctx, s.CreateQuery("SELECT count(o.id) FROM Order o").SetCacheable(true))
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	if n := count(); n != 3 {
		t.Fatalf("count = %d", n)
	}
	f.ResetStatistics()
	if n := count(); n != 3 {
		t.Errorf("cached count = %d", n)
	}
	if st := f.Statistics(); st.Selects != 0 {
		t.Errorf("cached count issued %d selects", st.Selects)
	}

	inTx(t, f, func(s *Session) error {
		_, err := s.CreateQuery("DELETE FROM Order o WHERE o.name = 'O-B1'").ExecuteUpdate(ctx)
		return err
	})
	if n := count(); n != 2 {
		t.Errorf("count after bulk delete = %d, want 2", n)
	}
}

func TestWarmCache(t *testing.T) {
	f := newFactory(t)
	_, bb, _ := seedShop(t, f)
	ctx := context.Background()

	n, err := f.WarmCache(ctx)
	if err != nil {
		t.Fatalf("WarmCache: %v", err)
	}
	if n != 3 {
		t.Errorf("warmed %d rows, want the 3 customers", n)
	}

	f.ResetStatistics()
	if c := findIn(t, f, bb); c.LastName != "BB" {
		t.Errorf("warmed customer = %v", c)
	}
	if st := f.Statistics(); st.Selects != 0 || st.CacheLoads != 1 {
		t.Errorf("selects = %d, cache loads = %d; want 0, 1", st.Selects, st.CacheLoads)
	}
}

func TestWarmerSchedule(t *testing.T) {
	f := newFactory(t, func(c *Config) {
		c.Warmer.Schedule = "@every 1h"
		c.Warmer.Entities = []string{"Customer"}
	})
	if f.warmer == nil {
		t.Fatal("warmer should be scheduled")
	}
	if entries := f.warmer.Entries(); len(entries) != 1 {
		t.Errorf("warmer entries = %d, want 1", len(entries))
	}

	targets, err := f.warmTargets()
	if err != nil || len(targets) != 1 || targets[0].Name != "Customer" {
		t.Errorf("targets = %v, %v", targets, err)
	}
}
