package blacklist

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type contextKey int

var (
	sessionContextKey contextKey = 0
)

// WithSessionID returns a context carrying id, used to correlate log and audit lines.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionContextKey, id)
}

// SessionID returns the session ID stored in ctx, if any.
func SessionID(ctx context.Context) (string, bool) {
	val := ctx.Value(sessionContextKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}

var lastUniqueID uint64

// NextUniqueID returns a strictly increasing, time based identifier.
func NextUniqueID() string {
	return strconv.FormatUint(Increment(&lastUniqueID), 36)
}

// Increment stores and returns a value strictly greater than the previous
// one, preferring the current wall clock in nanoseconds.
func Increment(prevPointer *uint64) uint64 {
	for {
		next := uint64(time.Now().UnixNano())
		previous := atomic.LoadUint64(prevPointer)
		if next <= previous {
			next = previous + 1
		}
		if atomic.CompareAndSwapUint64(prevPointer, previous, next) {
			return next
		}
	}
}

type SyncMap[K comparable, V comparable] struct {
	m     map[K]V
	mutex sync.RWMutex
}

func NewSyncMap[K comparable, V comparable]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: map[K]V{},
	}
}

func (s *SyncMap[K, V]) Values() iter.Seq[V] {
	return func(yield func(v V) bool) {
		s.mutex.RLock()
		values := make([]V, 0, len(s.m))
		for _, v := range s.m {
			values = append(values, v)
		}
		s.mutex.RUnlock()
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}

func (s *SyncMap[K, V]) GetHas(key K) (V, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, found := s.m[key]
	return v, found
}

func (s *SyncMap[K, V]) Set(key K, value V) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.m[key] = value
}

// SetIfAbsent stores value under key unless the key is taken, and reports
// whether it stored it.
func (s *SyncMap[K, V]) SetIfAbsent(key K, value V) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, found := s.m[key]; found {
		return false
	}
	s.m[key] = value
	return true
}

// DelIf removes key only while it still maps to value.
func (s *SyncMap[K, V]) DelIf(key K, value V) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if current, found := s.m[key]; found && current == value {
		delete(s.m, key)
		return true
	}
	return false
}

func (s *SyncMap[K, V]) Has(key K) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, found := s.m[key]
	return found
}

func (s *SyncMap[K, V]) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.m)
}
