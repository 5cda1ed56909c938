package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"admincore.org/internal/ids"
	"admincore.org/internal/obs"
)

// ErrPersistenceUnavailable wraps append failures of the underlying store.
// Callers must not swallow it: a privileged action whose audit write failed
// is reported as degraded, never as a clean success.
var ErrPersistenceUnavailable = errors.New("audit: persistence unavailable")

// OriginUnknown is recorded when the client origin cannot be determined.
const OriginUnknown = "unknown"

// Entry is one immutable record of a privileged action. Once appended it is
// never modified or deleted by this service.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Origin     string            `json:"origin"`
	RequestID  string            `json:"request_id,omitempty"`
}

// Store appends immutable entries. No read, update or delete operations are
// exposed; the log is write-only from this service's perspective.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so appended
// entries can be correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log is the append-only recorder. Every recorded entry is both persisted
// through the store and emitted as a structured JSON line, so the log stream
// still carries the action when persistence is down.
type Log struct {
	store Store
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog constructs the recorder over a store.
func NewLog(store Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends one entry for a privileged action. The returned entry has
// its id and timestamp filled in. A store failure is reported as
// ErrPersistenceUnavailable after the JSON line has been emitted.
func (l *Log) Record(ctx context.Context, actorID, action, targetType, targetID string, metadata map[string]string, origin string) (Entry, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return Entry{}, errors.New("audit: action is required")
	}
	if strings.TrimSpace(origin) == "" {
		origin = OriginUnknown
	}
	entry := Entry{
		ID:         ids.New(),
		OccurredAt: l.now().UTC(),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Origin:     origin,
		RequestID:  requestIDFromContext(ctx),
	}
	if len(metadata) > 0 {
		entry.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			entry.Metadata[k] = v
		}
	}

	l.emit(entry)

	if err := l.store.Append(ctx, &entry); err != nil {
		return entry, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return entry, nil
}

func (l *Log) emit(entry Entry) {
	line := map[string]any{
		"ts":     entry.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  entry.Action,
		"actor":  entry.ActorID,
		"target": entry.TargetType + "/" + entry.TargetID,
		"origin": entry.Origin,
	}
	if entry.RequestID != "" {
		line["request_id"] = entry.RequestID
	}
	if len(entry.Metadata) > 0 {
		line["fields"] = entry.Metadata
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}

// InMemoryStore keeps entries in process. Entries is exposed for tests;
// the production surface remains append-only.
type InMemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *InMemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
