// Package identity tracks the managed instances of one unit of work.
package identity

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/ammar0144/persist4go/pkg/mapping"
)

// ErrDuplicateIdentity is returned when a second instance claims a key
var ErrDuplicateIdentity = errors.New("another instance with the same identifier is already managed")

// Status is the lifecycle state of a tracked instance
type Status int

const (
	Managed Status = iota
	Removed
)

func (s Status) String() string {
	if s == Removed {
		return "removed"
	}
	return "managed"
}

// Key identifies a row: entity type plus normalized primary key
type Key struct {
	Type reflect.Type
	ID   any
}

// KeyOf builds a key for meta and a raw id value
func KeyOf(meta *mapping.Entity, id any) Key {
	return Key{Type: meta.Type, ID: mapping.NormalizeID(id)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%v", k.Type.Name(), k.ID)
}

// Entry is one tracked instance
type Entry struct {
	Instance any // pointer to the entity struct
	Meta     *mapping.Entity
	Status   Status

	// ID is nil until the row has an identifier
	ID any

	// Loaded is the column state last synchronized with the database, in
	// Meta.Columns order; nil until the row exists
	Loaded []any

	// Collections holds the element ids of owning collections last
	// synchronized with the database, by relation name
	Collections map[string][]any

	// Inserted is false while the insert is still queued
	Inserted bool

	seq uint64
}

// Key returns the identity key of the entry
func (e *Entry) Key() Key {
	return KeyOf(e.Meta, e.ID)
}

// Map holds at most one instance per key. It is not safe for concurrent use.
type Map struct {
	byKey      map[Key]*Entry
	byInstance map[any]*Entry
	seq        uint64
}

// New returns an empty identity map
func New() *Map {
	return &Map{
		byKey:      map[Key]*Entry{},
		byInstance: map[any]*Entry{},
	}
}

// Get returns the entry for a key
func (m *Map) Get(k Key) (*Entry, bool) {
	e, ok := m.byKey[k]
	return e, ok
}

// Lookup returns the entry tracking an instance
func (m *Map) Lookup(instance any) (*Entry, bool) {
	e, ok := m.byInstance[instance]
	return e, ok
}

// Contains reports whether the instance is tracked and not removed
func (m *Map) Contains(instance any) bool {
	e, ok := m.byInstance[instance]
	return ok && e.Status == Managed
}

// Put tracks an entry. Entries without an id are tracked by instance only
// until Rekey assigns one.
func (m *Map) Put(e *Entry) error {
	if e.Instance == nil || e.Meta == nil {
		return fmt.Errorf("identity entry needs an instance and metadata")
	}
	if e.ID != nil {
		e.ID = mapping.NormalizeID(e.ID)
		if other, ok := m.byKey[e.Key()]; ok && other.Instance != e.Instance {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, e.Key())
		}
		m.byKey[e.Key()] = e
	}
	if e.seq == 0 {
		m.seq++
		e.seq = m.seq
	}
	m.byInstance[e.Instance] = e
	return nil
}

// Rekey records a newly assigned identifier for a tracked instance
func (m *Map) Rekey(e *Entry, id any) error {
	if e.ID != nil {
		delete(m.byKey, e.Key())
	}
	e.ID = id
	return m.Put(e)
}

// Remove stops tracking an instance
func (m *Map) Remove(instance any) {
	e, ok := m.byInstance[instance]
	if !ok {
		return
	}
	delete(m.byInstance, instance)
	if e.ID != nil {
		if cur, ok := m.byKey[e.Key()]; ok && cur == e {
			delete(m.byKey, e.Key())
		}
	}
}

// Entries returns all tracked entries in the order they were first added
func (m *Map) Entries() []*Entry {
	out := make([]*Entry, 0, len(m.byInstance))
	for _, e := range m.byInstance {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Len returns the number of tracked instances
func (m *Map) Len() int {
	return len(m.byInstance)
}

// Clear drops every entry
func (m *Map) Clear() {
	m.byKey = map[Key]*Entry{}
	m.byInstance = map[any]*Entry{}
}
