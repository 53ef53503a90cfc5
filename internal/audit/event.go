// Package audit carries verdict events from the firewall to the recorders
// that log, count, store and stream them.
package audit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxQueryLen bounds the query string copied into an event.
const MaxQueryLen = 200

// Verdict names as they appear in events.
const (
	VerdictAllow             = "allow"
	VerdictRejectNotFound    = "reject_not_found"
	VerdictRejectForbidden   = "reject_forbidden"
	VerdictRejectRateLimited = "reject_rate_limited"
)

// ThreatNone labels events that tripped no rule.
const ThreatNone = "none"

// Event describes one inspected request.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Query     string    `json:"query,omitempty"`
	ClientKey string    `json:"client_key"`
	Verdict   string    `json:"verdict"`
	Threat    string    `json:"threat"`
	Status    int       `json:"status"`
}

// Blocked reports whether the request was rejected.
func (e Event) Blocked() bool {
	return e.Verdict != VerdictAllow
}

// NewEvent stamps a fresh ID and time. Request-supplied fields are forced to
// valid UTF-8 and the query is truncated to MaxQueryLen bytes.
func NewEvent(method, path, query, clientKey, verdict, threat string, status int) Event {
	if threat == "" {
		threat = ThreatNone
	}
	return Event{
		ID:        uuid.New(),
		Time:      time.Now().UTC(),
		Method:    Sanitize(method),
		Path:      Sanitize(path),
		Query:     Truncate(query, MaxQueryLen),
		ClientKey: Sanitize(clientKey),
		Verdict:   verdict,
		Threat:    threat,
		Status:    status,
	}
}

// Sanitize replaces invalid UTF-8 sequences with U+FFFD. The verdict log
// stores these fields as TEXT, which rejects invalid encodings.
func Sanitize(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Truncate sanitizes s and cuts it to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	s = Sanitize(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Recorder receives verdict events. Record must not block the request path.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event)

func (f RecorderFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi fans an event out to every recorder in order.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(context.Context, Event) {})
