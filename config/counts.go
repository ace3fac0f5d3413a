package config

import (
	"regexp"
	"regexp/syntax"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Entry is a key of a Counts and its usage counter.
type Entry struct {
	Key   string
	Count int
}

// Counts is an insertion ordered map from keys to usage counters, encoded as
// a JSON object.
type Counts struct {
	m *orderedmap.OrderedMap[string, int]
}

func NewCounts(entries ...Entry) Counts {
	c := Counts{m: orderedmap.New[string, int]()}
	for _, e := range entries {
		c.m.Set(e.Key, e.Count)
	}
	return c
}

func (c Counts) Clone() Counts {
	result := NewCounts()
	if c.m == nil {
		return result
	}
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		result.m.Set(pair.Key, pair.Value)
	}
	return result
}

func (c Counts) Len() int {
	if c.m == nil {
		return 0
	}
	return c.m.Len()
}

func (c Counts) Get(key string) (int, bool) {
	if c.m == nil {
		return 0, false
	}
	return c.m.Get(key)
}

// Entries returns the entries in insertion order.
func (c Counts) Entries() []Entry {
	result := make([]Entry, 0, c.Len())
	if c.m == nil {
		return result
	}
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, Entry{Key: pair.Key, Count: pair.Value})
	}
	return result
}

func (c Counts) MarshalJSON() ([]byte, error) {
	if c.m == nil {
		return []byte("{}"), nil
	}
	return c.m.MarshalJSON()
}

func (c *Counts) UnmarshalJSON(b []byte) error {
	m := orderedmap.New[string, int]()
	if err := m.UnmarshalJSON(b); err != nil {
		return errors.WithStack(err)
	}
	c.m = m
	return nil
}

// CountsField is a Counts stored under a single key.
type CountsField struct {
	*Field[Counts]
	patterns bool
}

func NewCountsField(name, description string) *CountsField {
	f := NewField(name, description, NewCounts())
	f.clone = Counts.Clone
	return &CountsField{Field: f}
}

// NewPatternCountsField returns a CountsField whose keys must be valid
// regular expressions. A stored key that doesn't compile makes the whole
// value invalid.
func NewPatternCountsField(name, description string) *CountsField {
	c := NewCountsField(name, description)
	c.patterns = true
	c.Validated(func(counts Counts) error {
		for _, e := range counts.Entries() {
			if err := CheckPattern(e.Key); err != nil {
				return err
			}
		}
		return nil
	})
	return c
}

// CompileFull compiles pattern so that it only matches whole strings.
// The anchors wrap the parsed tree rather than the source text, so
// constructs like an unterminated \Q can't swallow them.
func CompileFull(pattern string) (*regexp.Regexp, error) {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPattern, "%q: %v", pattern, err)
	}
	anchored := &syntax.Regexp{
		Op:    syntax.OpConcat,
		Flags: syntax.Perl,
		Sub: []*syntax.Regexp{
			{Op: syntax.OpBeginText},
			parsed,
			{Op: syntax.OpEndText},
		},
	}
	re, err := regexp.Compile(anchored.String())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPattern, "%q: %v", pattern, err)
	}
	return re, nil
}

// CheckPattern returns ErrInvalidPattern wrapping the compile error when
// pattern can't be compiled by CompileFull.
func CheckPattern(pattern string) error {
	_, err := CompileFull(pattern)
	return err
}

func (c *CountsField) check(key string) error {
	if c.patterns {
		return CheckPattern(key)
	}
	return nil
}

// Put sets the counter of key and returns the previous one.
func (c *CountsField) Put(key string, count int) (prev int, had bool, err error) {
	if err := c.check(key); err != nil {
		return 0, false, err
	}
	c.update(func(counts Counts) (Counts, bool) {
		prev, had = counts.m.Set(key, count)
		return counts, true
	})
	return prev, had, nil
}

// PutIfAbsent adds key with count unless it's already present, and reports
// whether it added it.
func (c *CountsField) PutIfAbsent(key string, count int) (bool, error) {
	if err := c.check(key); err != nil {
		return false, err
	}
	added := false
	c.update(func(counts Counts) (Counts, bool) {
		if _, found := counts.m.Get(key); found {
			return counts, false
		}
		counts.m.Set(key, count)
		added = true
		return counts, true
	})
	return added, nil
}

// Remove deletes key and returns its counter.
func (c *CountsField) Remove(key string) (prev int, had bool) {
	c.update(func(counts Counts) (Counts, bool) {
		prev, had = counts.m.Delete(key)
		return counts, had
	})
	return prev, had
}

func (c *CountsField) Contains(key string) bool {
	_, found := c.Count(key)
	return found
}

func (c *CountsField) Count(key string) (int, bool) {
	var count int
	found := false
	c.view(func(counts Counts) {
		count, found = counts.Get(key)
	})
	return count, found
}

func (c *CountsField) Len() int {
	n := 0
	c.view(func(counts Counts) {
		n = counts.Len()
	})
	return n
}

func (c *CountsField) Entries() []Entry {
	var result []Entry
	c.view(func(counts Counts) {
		result = counts.Entries()
	})
	return result
}

// IncrementFirst increments the counter of the first key, in insertion
// order, for which match returns true. The scan and the increment happen
// under one lock, so concurrent callers never lose an increment.
func (c *CountsField) IncrementFirst(match func(key string) bool) (Entry, bool) {
	var result Entry
	found := false
	c.update(func(counts Counts) (Counts, bool) {
		for pair := counts.m.Oldest(); pair != nil; pair = pair.Next() {
			if match(pair.Key) {
				result = Entry{Key: pair.Key, Count: pair.Value + 1}
				counts.m.Set(pair.Key, result.Count)
				found = true
				return counts, true
			}
		}
		return counts, false
	})
	return result, found
}
