// Package config binds typed, named fields to a settings.Store.
//
// A field is read from the store at most once, the first time any of its
// accessors runs, and written back only when it was changed. Fields are
// declared explicitly in a Registry, which loads and saves them in bulk.
package config

import (
	"log"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/xpdustry/simple-blacklist/settings"
)

var (
	ErrIllegalState = errors.New("configuration registry not initialized")
)

// State is the lifecycle of a field's cached value.
type State int

const (
	Unloaded State = iota
	Clean
	Dirty
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	}
	return "unknown"
}

// Declarable is a field a Registry can hold.
type Declarable interface {
	Name() string
	Description() string
	State() State
	// Load discards the cached value and reads it from the store again.
	Load() error
	// Save writes the cached value to the store if it is dirty.
	Save() error
	// ForceSave writes the cached value, or the default when unloaded, to the store.
	ForceSave() error

	bind(r *Registry) error
}

// Field is a scalar value stored as a single key of the document.
type Field[T any] struct {
	name        string
	description string
	def         T
	clone       func(T) T
	validate    func(T) error

	mu    sync.Mutex
	reg   *Registry
	state State
	value T
}

func identity[T any](t T) T {
	return t
}

// NewField returns a field stored under name, defaulting to def.
// T must survive a JSON round trip.
func NewField[T any](name, description string, def T) *Field[T] {
	return &Field[T]{
		name:        name,
		description: description,
		def:         def,
		clone:       identity[T],
	}
}

// Validated makes the field reject stored values for which validate fails,
// treating them like values that don't decode.
func (f *Field[T]) Validated(validate func(T) error) *Field[T] {
	f.validate = validate
	return f
}

func (f *Field[T]) Name() string {
	return f.name
}

func (f *Field[T]) Description() string {
	return f.description
}

func (f *Field[T]) Default() T {
	return f.clone(f.def)
}

func (f *Field[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Field[T]) bind(r *Registry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reg != nil {
		return errors.Errorf("field %q is already declared", f.name)
	}
	f.reg = r
	return nil
}

func (f *Field[T]) storeLocked() (*settings.Store, error) {
	if f.reg == nil {
		return nil, errors.Wrapf(ErrIllegalState, "field %q is not declared", f.name)
	}
	return f.reg.Store()
}

func (f *Field[T]) loadLocked() error {
	store, err := f.storeLocked()
	if err != nil {
		return err
	}
	value, err := settings.GetOrPut(store, f.name, f.def)
	if err == nil && f.validate != nil {
		err = f.validate(value)
	}
	if err != nil {
		log.Printf("config: invalid value for %q, using the default: %v", f.name, err)
		f.value = f.clone(f.def)
		f.state = Dirty
		return nil
	}
	f.value = f.clone(value)
	f.state = Clean
	return nil
}

// ensureLocked loads the value on first access. Accessing a field of an
// uninitialized registry is a programming error.
func (f *Field[T]) ensureLocked() {
	if f.state != Unloaded {
		return
	}
	if err := f.loadLocked(); err != nil {
		panic(err)
	}
}

// Get returns a copy of the current value, loading it if needed.
func (f *Field[T]) Get() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked()
	return f.clone(f.value)
}

// Set replaces the value. Nothing is written until Save.
func (f *Field[T]) Set(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.storeLocked(); err != nil {
		panic(err)
	}
	f.value = f.clone(value)
	f.state = Dirty
}

// Reset replaces the value with the default.
func (f *Field[T]) Reset() {
	f.Set(f.def)
}

// update applies fn to the loaded value under the field lock. The value
// becomes dirty when fn reports a change.
func (f *Field[T]) update(fn func(T) (T, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked()
	if next, changed := fn(f.value); changed {
		f.value = next
		f.state = Dirty
	}
}

// view runs fn with the loaded value under the field lock. fn must not
// retain or modify the value.
func (f *Field[T]) view(fn func(T)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked()
	fn(f.value)
}

func (f *Field[T]) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	f.value = zero
	f.state = Unloaded
	return f.loadLocked()
}

func (f *Field[T]) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Dirty {
		return nil
	}
	return f.writeLocked(f.value)
}

func (f *Field[T]) ForceSave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Unloaded {
		return f.writeLocked(f.def)
	}
	return f.writeLocked(f.value)
}

func (f *Field[T]) writeLocked(value T) error {
	store, err := f.storeLocked()
	if err != nil {
		return err
	}
	if err := store.Put(f.name, value); err != nil {
		return errors.Wrapf(err, "saving %q", f.name)
	}
	if f.state == Dirty {
		f.state = Clean
	}
	return nil
}

// ListField is an ordered list of values stored as a JSON array.
type ListField[E comparable] struct {
	*Field[[]E]
}

func NewListField[E comparable](name, description string, def ...E) *ListField[E] {
	if def == nil {
		def = []E{}
	}
	f := NewField(name, description, slices.Clone(def))
	f.clone = func(s []E) []E {
		if s == nil {
			return []E{}
		}
		return slices.Clone(s)
	}
	return &ListField[E]{Field: f}
}

func (l *ListField[E]) Add(e E) {
	l.update(func(s []E) ([]E, bool) {
		return append(s, e), true
	})
}

// Remove deletes the first element equal to e and reports whether there was one.
func (l *ListField[E]) Remove(e E) bool {
	removed := false
	l.update(func(s []E) ([]E, bool) {
		idx := slices.Index(s, e)
		if idx == -1 {
			return s, false
		}
		removed = true
		return slices.Delete(s, idx, idx+1), true
	})
	return removed
}

func (l *ListField[E]) Contains(e E) bool {
	found := false
	l.view(func(s []E) {
		found = slices.Contains(s, e)
	})
	return found
}

// At returns the element at i, and false when i is out of range.
func (l *ListField[E]) At(i int) (E, bool) {
	var result E
	found := false
	l.view(func(s []E) {
		if i >= 0 && i < len(s) {
			result, found = s[i], true
		}
	})
	return result, found
}

func (l *ListField[E]) Len() int {
	n := 0
	l.view(func(s []E) {
		n = len(s)
	})
	return n
}

// Values returns a copy of the list.
func (l *ListField[E]) Values() []E {
	return l.Get()
}
