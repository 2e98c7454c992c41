// Package notify carries user-facing notices from background components to
// whatever surface the process has (a TUI status line, the log).
package notify

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasttemplate"
)

// Level of a notice
type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "warning"
	case Error:
		return "error"
	}
	return "info"
}

// Notice is one message for the operator
type Notice struct {
	Level   Level
	Message string
	At      time.Time
}

// Sink receives notices. Implementations must not block.
type Sink interface {
	Notify(Notice)
}

// Func adapts a function to Sink
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Log writes notices to a zerolog logger
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(n Notice) {
	ev := l.Logger.Info()
	switch n.Level {
	case Warn:
		ev = l.Logger.Warn()
	case Error:
		ev = l.Logger.Error()
	}
	ev.Str("notice", n.Message).Msg("Notice")
}

// Multi fans a notice out to several sinks
type Multi []Sink

func (m Multi) Notify(n Notice) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Recorder keeps every notice; handy for tests and for a scrollback view
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of what was recorded
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Send builds and delivers a notice. A nil sink discards it.
func Send(s Sink, level Level, message string) {
	if s == nil {
		return
	}
	s.Notify(Notice{Level: level, Message: message, At: time.Now()})
}

// Format fills a "{name}" style template. Unknown tags render empty.
func Format(template string, values map[string]string) string {
	return fasttemplate.ExecuteFuncString(template, "{", "}", func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(values[tag]))
	})
}
