package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Registry maps entity types to their metadata. It is safe for concurrent
// use; registration normally happens once at startup.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Entity
	byName map[string]*Entity
	order  []*Entity
}

// NewRegistry registers the given models (pointers or values of entity
// structs) and checks that every association target is registered
func NewRegistry(models ...any) (*Registry, error) {
	r := &Registry{
		byType: map[reflect.Type]*Entity{},
		byName: map[string]*Entity{},
	}
	for _, m := range models {
		if _, err := r.Register(m); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register parses and adds one entity type. Registering a type twice
// returns the existing metadata.
func (r *Registry) Register(model any) (*Entity, error) {
	t := reflect.TypeOf(model)
	if t == nil {
		return nil, fmt.Errorf("%w: nil model", ErrNotEntity)
	}
	t = derefType(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byType[t]; ok {
		return e, nil
	}
	e, err := parseEntity(t)
	if err != nil {
		return nil, err
	}
	if other, ok := r.byName[e.Name]; ok {
		return nil, fmt.Errorf("%w: entity name %s used by %s and %s", ErrInvalidMapping, e.Name, other.Type, t)
	}

	r.byType[t] = e
	r.byName[e.Name] = e
	r.order = append(r.order, e)
	r.link()
	return e, nil
}

// link resolves relation targets and defaults that depend on them
func (r *Registry) link() {
	for _, e := range r.order {
		for _, rel := range e.Relations {
			if rel.Target != nil {
				continue
			}
			target, ok := r.byType[rel.targetType]
			if !ok {
				continue
			}
			rel.Target = target
			if !rel.Owning() {
				continue
			}
			switch rel.Kind {
			case ManyToMany:
				if rel.JoinTable == "" {
					rel.JoinTable = e.Table + "_" + target.Table
				}
				if rel.JoinColumn == "" {
					rel.JoinColumn = strings.ToUpper(e.Name) + "_ID"
				}
				if rel.InverseJoinColumn == "" {
					rel.InverseJoinColumn = strings.ToUpper(target.Name) + "_ID"
				}
			case OneToMany:
				// unidirectional: the foreign key lives in the target table
				if rel.JoinColumn == "" {
					rel.JoinColumn = strings.ToUpper(e.Name) + "_ID"
				}
			}
		}
	}
}

// Validate checks that all targets are registered and mappedBy sides match
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.order {
		for _, rel := range e.Relations {
			if rel.Target == nil {
				return fmt.Errorf("%w: %s.%s targets unregistered type %s", ErrUnknownEntity, e.Name, rel.Name, rel.targetType)
			}
			if rel.Owning() {
				continue
			}
			inv := rel.Target.Relation(rel.MappedBy)
			if inv == nil {
				return fmt.Errorf("%w: %s.%s mappedBy %q not found on %s", ErrInvalidMapping, e.Name, rel.Name, rel.MappedBy, rel.Target.Name)
			}
			if !inv.Owning() || inv.Target != e {
				return fmt.Errorf("%w: %s.%s mappedBy %s.%s is not an owning side of %s", ErrInvalidMapping, e.Name, rel.Name, rel.Target.Name, inv.Name, e.Name)
			}
		}
	}
	return nil
}

// ByType returns the metadata of an entity struct type
func (r *Registry) ByType(t reflect.Type) (*Entity, error) {
	t = derefType(t)
	r.mu.RLock()
	e, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, t)
	}
	return e, nil
}

// ByName returns the metadata for an entity name as used in object queries
func (r *Registry) ByName(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[name]; ok {
		return e, nil
	}
	for _, e := range r.order {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// ByTable returns the metadata of the entity stored in table
func (r *Registry) ByTable(table string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.order {
		if strings.EqualFold(e.Table, table) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: table %s", ErrUnknownEntity, table)
}

// Of returns the metadata of an entity instance
func (r *Registry) Of(entity any) (*Entity, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil", ErrNotEntity)
	}
	t := reflect.TypeOf(entity)
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a pointer to a struct", ErrNotEntity, entity)
	}
	return r.ByType(t.Elem())
}

// Entities returns all registered entities in registration order
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, len(r.order))
	copy(out, r.order)
	return out
}

// NamedQuery finds a named query declared by any registered entity
func (r *Registry) NamedQuery(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.order {
		if q, ok := e.NamedQueries[name]; ok {
			return q, true
		}
	}
	return "", false
}

// EntityOf returns the metadata of T
func EntityOf[T any](r *Registry) (*Entity, error) {
	return r.ByType(reflect.TypeOf((*T)(nil)).Elem())
}
