package config

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xpdustry/simple-blacklist/settings"
)

const (
	DefaultAutosaveInterval = time.Minute
)

var (
	ErrFieldAlreadyDeclared = errors.New("field already declared")
)

// Registry holds every declared field and the store they live in.
type Registry struct {
	mu     sync.RWMutex
	fields []Declarable
	names  map[string]bool
	store  *settings.Store
}

func NewRegistry() *Registry {
	return &Registry{
		names: map[string]bool{},
	}
}

// Declare adds f to the registry. Fields are loaded and saved in declaration order.
func (r *Registry) Declare(f Declarable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[f.Name()] {
		return errors.Wrapf(ErrFieldAlreadyDeclared, "%q", f.Name())
	}
	if err := f.bind(r); err != nil {
		return err
	}
	r.names[f.Name()] = true
	r.fields = append(r.fields, f)
	return nil
}

// MustDeclare declares every field and panics on error.
func (r *Registry) MustDeclare(fields ...Declarable) {
	for _, f := range fields {
		if err := r.Declare(f); err != nil {
			panic(err)
		}
	}
}

// Init binds the registry to store. Until then loads, saves and field
// accesses fail with ErrIllegalState.
func (r *Registry) Init(store *settings.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return errors.Wrap(ErrIllegalState, "registry already initialized")
	}
	r.store = store
	return nil
}

// Store returns the bound store, or ErrIllegalState before Init.
func (r *Registry) Store() (*settings.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.store == nil {
		return nil, errors.WithStack(ErrIllegalState)
	}
	return r.store, nil
}

// Fields returns the declared fields in declaration order.
func (r *Registry) Fields() []Declarable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Declarable(nil), r.fields...)
}

// LoadAll reloads the store from disk and then every field from the store.
func (r *Registry) LoadAll() error {
	store, err := r.Store()
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}
	for _, f := range r.Fields() {
		if err := f.Load(); err != nil {
			return errors.Wrapf(err, "loading %q", f.Name())
		}
	}
	return nil
}

// SaveAll writes every dirty field to the store and then the store to disk.
// It does nothing when nothing changed.
func (r *Registry) SaveAll() error {
	store, err := r.Store()
	if err != nil {
		return err
	}
	for _, f := range r.Fields() {
		if err := f.Save(); err != nil {
			return errors.Wrapf(err, "saving %q", f.Name())
		}
	}
	return store.Save()
}

// Modified reports whether any field is dirty or the store has unsaved changes.
func (r *Registry) Modified() bool {
	for _, f := range r.Fields() {
		if f.State() == Dirty {
			return true
		}
	}
	store, err := r.Store()
	if err != nil {
		return false
	}
	return store.Modified()
}

// Autosave saves every interval while something is modified, until ctx is
// done. Failed saves are logged and retried on the next tick. When ctx is
// done it saves one last time and returns the result.
func (r *Registry) Autosave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.SaveAll()
		case <-ticker.C:
			if !r.Modified() {
				continue
			}
			if err := r.SaveAll(); err != nil {
				log.Printf("config: autosave failed: %v", err)
			}
		}
	}
}
