package mapping

import "reflect"

// Loader fetches the target of a lazy to-one association
type Loader func() (any, error)

// CollectionLoader fetches the elements of a lazy collection
type CollectionLoader func() ([]any, error)

// ToOne is the type-erased view of a Ref used by the session
type ToOne interface {
	// Peek returns the target without loading; loaded is false while a
	// lazy loader is still pending
	Peek() (target any, loaded bool)

	// ForeignKey returns the key of an unloaded target
	ForeignKey() any

	// Assign replaces the target with an already loaded instance or nil
	Assign(target any)

	// Bind installs a lazy loader for the row identified by fk
	Bind(fk any, loader Loader)

	// Resolve loads the target if needed and returns it
	Resolve() (any, error)

	elemType() reflect.Type
}

// ToMany is the type-erased view of a Set used by the session
type ToMany interface {
	Initialized() bool

	// Pending reports whether changes were queued before the first load
	Pending() bool

	// Elements returns the in-memory elements without loading
	Elements() []any

	// Replace installs loaded contents and marks the collection initialized
	Replace(elems []any)

	// BindLoader installs a lazy loader
	BindLoader(loader CollectionLoader)

	// Resolve loads the collection if needed and returns its elements
	Resolve() ([]any, error)

	elemType() reflect.Type
}

// ============================================================================
// Ref
// ============================================================================

// Ref holds a to-one association. The zero value is an empty, loaded reference.
type Ref[T any] struct {
	value  *T
	fk     any
	loader Loader
}

// RefTo returns a reference already pointing at v
func RefTo[T any](v *T) Ref[T] {
	return Ref[T]{value: v}
}

// Get returns the target, loading it through the owning session if needed
func (r *Ref[T]) Get() (*T, error) {
	if _, err := r.Resolve(); err != nil {
		return nil, err
	}
	return r.value, nil
}

// Set points the reference at v
func (r *Ref[T]) Set(v *T) {
	r.value = v
	r.fk = nil
	r.loader = nil
}

// Loaded reports whether the target is available without a database round trip
func (r *Ref[T]) Loaded() bool {
	return r.loader == nil
}

// IsNil reports whether the reference is known to be empty
func (r *Ref[T]) IsNil() bool {
	return r.loader == nil && r.value == nil
}

func (r *Ref[T]) Peek() (any, bool) {
	if r.loader != nil {
		return nil, false
	}
	if r.value == nil {
		return nil, true
	}
	return r.value, true
}

func (r *Ref[T]) ForeignKey() any {
	return r.fk
}

func (r *Ref[T]) Assign(target any) {
	if target == nil {
		r.Set(nil)
		return
	}
	r.Set(target.(*T))
}

func (r *Ref[T]) Bind(fk any, loader Loader) {
	if fk == nil {
		r.Set(nil)
		return
	}
	r.value = nil
	r.fk = fk
	r.loader = loader
}

func (r *Ref[T]) Resolve() (any, error) {
	if r.loader != nil {
		target, err := r.loader()
		if err != nil {
			return nil, err
		}
		r.Assign(target)
	}
	if r.value == nil {
		return nil, nil
	}
	return r.value, nil
}

func (r *Ref[T]) elemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ============================================================================
// Set
// ============================================================================

// Set holds a collection association with pointer identity semantics.
// Changes made before a lazy set is loaded are queued and applied on load.
type Set[T any] struct {
	items   []*T
	removed []*T
	loader  CollectionLoader
}

// SetOf returns a loaded set holding items
func SetOf[T any](items ...*T) Set[T] {
	s := Set[T]{}
	s.Add(items...)
	return s
}

// Items loads the collection if needed and returns a copy of its elements
func (s *Set[T]) Items() ([]*T, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	out := make([]*T, len(s.items))
	copy(out, s.items)
	return out, nil
}

// Len loads the collection if needed and returns its size
func (s *Set[T]) Len() (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	return len(s.items), nil
}

// Contains loads the collection if needed and checks membership
func (s *Set[T]) Contains(v *T) (bool, error) {
	if err := s.init(); err != nil {
		return false, err
	}
	return s.index(v) >= 0, nil
}

// Add inserts elements not already present
func (s *Set[T]) Add(items ...*T) {
	for _, v := range items {
		if v == nil || s.index(v) >= 0 {
			continue
		}
		s.items = append(s.items, v)
		if i := indexOf(s.removed, v); i >= 0 {
			s.removed = append(s.removed[:i], s.removed[i+1:]...)
		}
	}
}

// Remove deletes an element
func (s *Set[T]) Remove(v *T) {
	if i := s.index(v); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	if s.loader != nil && indexOf(s.removed, v) < 0 {
		s.removed = append(s.removed, v)
	}
}

// Loaded reports whether the elements are in memory
func (s *Set[T]) Loaded() bool {
	return s.loader == nil
}

func (s *Set[T]) init() error {
	if s.loader == nil {
		return nil
	}
	elems, err := s.loader()
	if err != nil {
		return err
	}
	s.merge(elems)
	return nil
}

// merge combines loaded rows with queued changes
func (s *Set[T]) merge(elems []any) {
	queued := s.items
	removed := s.removed
	s.items = make([]*T, 0, len(elems)+len(queued))
	s.removed = nil
	s.loader = nil
	for _, e := range elems {
		v := e.(*T)
		if indexOf(removed, v) < 0 && s.index(v) < 0 {
			s.items = append(s.items, v)
		}
	}
	for _, v := range queued {
		if s.index(v) < 0 {
			s.items = append(s.items, v)
		}
	}
}

func (s *Set[T]) index(v *T) int {
	return indexOf(s.items, v)
}

func indexOf[T any](items []*T, v *T) int {
	for i, it := range items {
		if it == v {
			return i
		}
	}
	return -1
}

func (s *Set[T]) Initialized() bool {
	return s.loader == nil
}

func (s *Set[T]) Pending() bool {
	return s.loader != nil && (len(s.items) > 0 || len(s.removed) > 0)
}

func (s *Set[T]) Elements() []any {
	out := make([]any, len(s.items))
	for i, v := range s.items {
		out[i] = v
	}
	return out
}

func (s *Set[T]) Replace(elems []any) {
	s.items = nil
	s.removed = nil
	s.merge(elems)
}

func (s *Set[T]) BindLoader(loader CollectionLoader) {
	s.loader = loader
}

func (s *Set[T]) Resolve() ([]any, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.Elements(), nil
}

func (s *Set[T]) elemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
