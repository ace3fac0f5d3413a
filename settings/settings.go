// Package settings implements a flat, string keyed JSON document kept in a
// single file.
//
// Values are held as raw JSON in insertion order and only decoded when a
// caller asks for them with a concrete type. The whole document is written
// back by Save, and only when something changed since the last load or save.
package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	goccy "github.com/goccy/go-json"
)

var (
	nullJSON = []byte("null")
)

// IOError is returned when the backing file can't be read, parsed or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a stored value doesn't decode into the requested type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Stats counts the operations a Store has served.
type Stats struct {
	Reads  uint64 // lookups of present keys
	Writes uint64 // documents written to disk
}

// Store is the in-memory image of a JSON document file.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	values   *orderedmap.OrderedMap[string, goccy.RawMessage]
	modified bool
	stats    Stats
}

// New returns an empty Store bound to path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{
		path:   path,
		values: orderedmap.New[string, goccy.RawMessage](),
	}
}

// Path returns the file the store reads from and writes to.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory document with the file content.
// A missing file is created holding an empty document.
// On failure the previous in-memory document is kept.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.modified = true
		return s.writeLocked()
	} else if err != nil {
		return &IOError{Op: "read", Path: s.path, Err: errors.WithStack(err)}
	}

	fresh := orderedmap.New[string, goccy.RawMessage]()
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, nullJSON) {
		if err := fresh.UnmarshalJSON(trimmed); err != nil {
			return &IOError{Op: "parse", Path: s.path, Err: errors.WithStack(err)}
		}
	}
	s.values = fresh
	s.modified = false
	return nil
}

// Save writes the document if it was modified since the last load or save.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modified {
		return nil
	}
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	compact, err := s.values.MarshalJSON()
	if err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: errors.WithStack(err)}
	}
	buf := &bytes.Buffer{}
	if err := goccy.Indent(buf, compact, "", "  "); err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: errors.WithStack(err)}
	}
	buf.WriteByte('\n')
	if err := atomicWrite(s.path, buf.Bytes()); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	s.modified = false
	s.stats.Writes++
	return nil
}

// Modified reports whether the document changed since the last load or save.
func (s *Store) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// Stats returns a snapshot of the operation counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.values.Get(key)
	return found
}

// Keys returns the stored keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Len()
}

// Remove deletes key and reports whether it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.values.Delete(key)
	s.modified = true
	return found
}

// Clear drops every key.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = orderedmap.New[string, goccy.RawMessage]()
	s.modified = true
}

// Raw returns the undecoded JSON stored for key.
func (s *Store) Raw(key string) (goccy.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, found := s.values.Get(key)
	if !found {
		return nil, false
	}
	return append(goccy.RawMessage(nil), raw...), true
}

// Put encodes value and stores it under key, replacing any previous value.
// A goccy.RawMessage is stored as is.
func (s *Store) Put(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value)
}

func (s *Store) putLocked(key string, value any) error {
	var raw goccy.RawMessage
	if msg, ok := value.(goccy.RawMessage); ok {
		if !goccy.Valid(msg) {
			return errors.Errorf("storing %q: invalid raw JSON", key)
		}
		raw = append(goccy.RawMessage(nil), msg...)
	} else {
		b, err := goccy.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "storing %q", key)
		}
		raw = b
	}
	s.values.Set(key, raw)
	s.modified = true
	return nil
}

func decodeLocked[T any](s *Store, key string, raw goccy.RawMessage) (T, error) {
	var result T
	s.stats.Reads++
	if bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		return result, &DecodeError{Key: key, Err: errors.New("value is null")}
	}
	if err := goccy.Unmarshal(raw, &result); err != nil {
		return result, &DecodeError{Key: key, Err: errors.WithStack(err)}
	}
	return result, nil
}

// Get decodes the value stored under key, or returns def when the key is absent.
// A present value that doesn't decode into T yields a *DecodeError.
func Get[T any](s *Store, key string, def T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, found := s.values.Get(key)
	if !found {
		return def, nil
	}
	return decodeLocked[T](s, key, raw)
}

// GetOrPut behaves like Get, but stores def when the key is absent.
func GetOrPut[T any](s *Store, key string, def T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, found := s.values.Get(key)
	if !found {
		if err := s.putLocked(key, def); err != nil {
			return def, err
		}
		return def, nil
	}
	return decodeLocked[T](s, key, raw)
}

// atomicWrite writes data to a file atomically via a synced temporary file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best effort cleanup
		return errors.WithStack(err)
	}
	return nil
}
