// Package audit records the security event trail: a capped log kept in
// the key-value store, optionally fanned out to Kafka, ClickHouse and
// Elasticsearch sinks. Sink failures never reach the caller; the local
// trail is the source of truth.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

// trailKey is the logical store key of the local trail.
const trailKey = "securityLog"

// maxTrailEvents caps the retained trail; the oldest entries fall off.
const maxTrailEvents = 1000

// sinkTimeout bounds each external sink delivery.
const sinkTimeout = 5 * time.Second

// Event types.
const (
	EventSessionCreated   = "session_created"
	EventSessionDestroyed = "session_destroyed"
	EventSessionExpired   = "session_expired"
	EventSessionInvalid   = "session_invalid"
	EventSessionHijack    = "hijack_detected"
	EventLoginSuccess     = "login_success"
	EventLoginFailure     = "login_failure"
	EventLoginLocked      = "login_locked"
	EventFingerprint      = "fingerprint_mismatch"
	EventBackupCreated    = "backup_created"
	EventBackupRestored   = "backup_restored"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// TrailStore is the slice of the key-value store the trail needs.
type TrailStore interface {
	Set(key string, value interface{}) bool
	Get(key string, out interface{}) bool
	Remove(key string) bool
}

// Sink delivers events to an external system.
type Sink interface {
	Name() string
	Emit(ctx context.Context, event Event) error
}

// Recorder owns the local trail and the sink fan-out.
type Recorder struct {
	store TrailStore
	sinks []Sink
	now   func() time.Time
	mu    sync.Mutex
}

func NewRecorder(store TrailStore, sinks ...Sink) *Recorder {
	return &Recorder{
		store: store,
		sinks: sinks,
		now:   time.Now,
	}
}

// Record appends an event to the trail and fans it out. The event ID
// and timestamp are filled in here.
func (r *Recorder) Record(eventType string, event Event) Event {
	event.ID = uuid.New().String()
	event.Type = eventType
	event.Timestamp = r.now().UnixMilli()

	r.mu.Lock()
	var trail []Event
	r.store.Get(trailKey, &trail)
	trail = append(trail, event)
	if len(trail) > maxTrailEvents {
		trail = trail[len(trail)-maxTrailEvents:]
	}
	r.store.Set(trailKey, trail)
	r.mu.Unlock()

	util.Info("Security event recorded",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID))

	r.dispatch(event)
	return event
}

// Trail returns a copy of the retained events, oldest first.
func (r *Recorder) Trail() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var trail []Event
	r.store.Get(trailKey, &trail)
	return trail
}

// Clear drops the local trail. External sinks keep what they received.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Remove(trailKey)
}

// dispatch fans the event out to every sink concurrently. Failures are
// logged per sink and swallowed.
func (r *Recorder) dispatch(event Event) {
	if len(r.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Emit(ctx, event); err != nil {
				util.Warn("Audit sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SetClock overrides the time source, for tests.
func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}
