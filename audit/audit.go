// Package audit writes security relevant events to a rotated JSON lines file.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	blacklist "github.com/xpdustry/simple-blacklist"
	goccy "github.com/goccy/go-json"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 5
)

// Logger writes one JSON object per event.
type Logger struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *goccy.Encoder
}

// Ref identifies a player in audit entries.
type Ref struct {
	Name     string `json:"name"`
	Identity string `json:"identity,omitempty"`
	Address  string `json:"address,omitempty"`
}

// SystemRef is the caller for changes not made by a player.
func SystemRef() Ref {
	return Ref{Name: "system"}
}

// Data is the typed payload of an entry.
type Data interface {
	auditData()
}

type Entry struct {
	Time      string `json:"time"`
	SessionID string `json:"session_id,omitempty"`
	Event     string `json:"event"`
	Data      Data   `json:"data"`
}

// Connect is logged when a player is admitted.
type Connect struct {
	Player Ref  `json:"player"`
	Admin  bool `json:"admin,omitempty"`
}

func (Connect) auditData() {}

// Rejected is logged when a connection is refused before the nickname is checked.
type Rejected struct {
	Player Ref    `json:"player"`
	Reason string `json:"reason"`
}

func (Rejected) auditData() {}

// Blacklisted is logged when a nickname matched and an action was taken.
type Blacklisted struct {
	Player       Ref    `json:"player"`
	List         string `json:"list"`
	Entry        string `json:"entry"`
	Uses         int    `json:"uses"`
	Action       string `json:"action"`
	Message      string `json:"message"`
	GraceSeconds int    `json:"grace_seconds,omitempty"`
}

func (Blacklisted) auditData() {}

// Command is logged for every blacklist command run by an admin.
type Command struct {
	Caller Ref    `json:"caller"`
	Args   string `json:"args"`
	Error  string `json:"error,omitempty"`
}

func (Command) auditData() {}

// SessionEnd is logged when an admitted player disconnects.
type SessionEnd struct {
	Player Ref `json:"player"`
}

func (SessionEnd) auditData() {}

// New returns a Logger appending to path, rotating it once it grows beyond maxSizeMB.
func New(path string, maxSizeMB int) *Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return NewWriter(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: DefaultMaxBackups,
		LocalTime:  false,
	})
}

// NewWriter returns a Logger writing to w.
func NewWriter(w io.WriteCloser) *Logger {
	return &Logger{
		out: w,
		enc: goccy.NewEncoder(w),
	}
}

// Log writes a structured entry.
// Panics if encoding fails, since that means a Data type can't be encoded.
func (l *Logger) Log(ctx context.Context, event string, data Data) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sessionID, _ := blacklist.SessionID(ctx)
	if err := l.enc.Encode(Entry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Event:     event,
		Data:      data,
	}); err != nil {
		panic(fmt.Sprintf("audit log encode failed: %v", err))
	}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
