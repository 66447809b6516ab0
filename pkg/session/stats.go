package session

import "sync/atomic"

// Statistics counts the statements and unit-of-work events of a factory
type Statistics struct {
	// Statement counters
	selects atomic.Uint64
	inserts atomic.Uint64
	updates atomic.Uint64
	deletes atomic.Uint64

	// Load counters
	entityLoads atomic.Uint64 // rows hydrated from the database
	cacheLoads  atomic.Uint64 // rows hydrated from the second-level cache

	// Unit of work counters
	queries      atomic.Uint64
	flushes      atomic.Uint64
	transactions atomic.Uint64
	sessions     atomic.Uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics
type StatisticsSnapshot struct {
	Selects uint64
	Inserts uint64
	Updates uint64
	Deletes uint64

	EntityLoads uint64
	CacheLoads  uint64

	Queries      uint64
	Flushes      uint64
	Transactions uint64
	Sessions     uint64
}

// Snapshot returns the current counter values
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Selects:      s.selects.Load(),
		Inserts:      s.inserts.Load(),
		Updates:      s.updates.Load(),
		Deletes:      s.deletes.Load(),
		EntityLoads:  s.entityLoads.Load(),
		CacheLoads:   s.cacheLoads.Load(),
		Queries:      s.queries.Load(),
		Flushes:      s.flushes.Load(),
		Transactions: s.transactions.Load(),
		Sessions:     s.sessions.Load(),
	}
}

// Reset zeroes every counter
func (s *Statistics) Reset() {
	s.selects.Store(0)
	s.inserts.Store(0)
	s.updates.Store(0)
	s.deletes.Store(0)
	s.entityLoads.Store(0)
	s.cacheLoads.Store(0)
	s.queries.Store(0)
	s.flushes.Store(0)
	s.transactions.Store(0)
	s.sessions.Store(0)
}
