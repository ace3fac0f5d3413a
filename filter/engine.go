// Package filter decides whether a nickname is blacklisted and what to do about it.
package filter

import (
	"log"
	"regexp"
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/xpdustry/simple-blacklist/config"
)

const (
	compiledPatterns   = 256
	compiledPatternTTL = time.Hour
)

// List names the rule set that matched a nickname.
type List int

const (
	NoList List = iota
	NameList
	RegexList
)

func (l List) String() string {
	switch l {
	case NameList:
		return "names"
	case RegexList:
		return "regex"
	}
	return "none"
}

// Verdict is the outcome of evaluating a nickname.
type Verdict struct {
	Name    string // normalized nickname
	Matched bool
	List    List
	Entry   string // matching list entry
	Count   int    // entry counter after the increment
}

// Engine matches nicknames against the name and regex lists.
type Engine struct {
	settings *Settings
	patterns cache.Cache[string, *regexp.Regexp]
}

func NewEngine(settings *Settings) *Engine {
	return &Engine{
		settings: settings,
		patterns: cache.NewCache[string, *regexp.Regexp]().WithMaxKeys(compiledPatterns).WithLRU().WithTTL(compiledPatternTTL),
	}
}

func (e *Engine) Settings() *Settings {
	return e.settings
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	if re, found := e.patterns.Get(pattern); found {
		return re, nil
	}
	re, err := config.CompileFull(pattern)
	if err != nil {
		return nil, err
	}
	e.patterns.Set(pattern, re, 0)
	return re, nil
}

// Evaluate normalizes name and checks it against the enabled lists, names
// first. The first matching entry has its counter incremented, and no other
// entry is touched.
func (e *Engine) Evaluate(name string) Verdict {
	normalized := Normalize(name)
	result := Verdict{Name: normalized}

	if e.settings.NamesEnabled.Get() {
		caseSensitive := e.settings.CaseSensitive.Get()
		candidate := normalized
		if !caseSensitive {
			candidate = strings.ToLower(candidate)
		}
		entry, found := e.settings.Names.IncrementFirst(func(key string) bool {
			if caseSensitive {
				return strings.Contains(candidate, key)
			}
			return strings.Contains(candidate, strings.ToLower(key))
		})
		if found {
			result.Matched, result.List, result.Entry, result.Count = true, NameList, entry.Key, entry.Count
			return result
		}
	}

	if e.settings.RegexEnabled.Get() {
		entry, found := e.settings.Regex.IncrementFirst(func(key string) bool {
			re, err := e.compile(key)
			if err != nil {
				log.Printf("filter: skipping %v", err)
				return false
			}
			return re.MatchString(normalized)
		})
		if found {
			result.Matched, result.List, result.Entry, result.Count = true, RegexList, entry.Key, entry.Count
			return result
		}
	}

	return result
}

// Valid reports whether name passes both lists. Like Evaluate, a match
// increments a counter.
func (e *Engine) Valid(name string) bool {
	return !e.Evaluate(name).Matched
}
