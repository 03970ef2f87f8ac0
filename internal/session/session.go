// Package session implements the authenticated session lifecycle:
// creation, expiry, fingerprint validation and hijack detection. The
// absolute lifetime is fixed at creation; only the inactivity window
// slides with use. The session record persists through the key-value
// store under a fixed slot key, so at most one session exists at a
// time.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/audit"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/encryption"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

// sessionSlotKey is the logical store key of the single session slot.
const sessionSlotKey = "session"

const (
	// fingerprintTolerance is the minimum component match ratio a
	// returning client must reach.
	fingerprintTolerance = 0.8
	// maxSessionAge and rapidActivityWindow drive the hijack
	// heuristic: a session older than a day that is still being
	// driven at short intervals looks replayed.
	maxSessionAge       = 24 * time.Hour
	rapidActivityWindow = 5 * time.Minute
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionInvalid = errors.New("session invalid")
)

// Record is the persisted session state. Timestamps are Unix millis.
type Record struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Username     string      `json:"username"`
	Role         string      `json:"role"`
	CompanyID    string      `json:"company_id"`
	CSRFToken    string      `json:"csrf_token"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	UserAgent    string      `json:"user_agent"`
	CreatedAt    int64       `json:"created_at"`
	LastActivity int64       `json:"last_activity"`
	ExpiresAt    int64       `json:"expires_at"`
}

type Manager struct {
	store    *store.Store
	enc      *encryption.Manager
	recorder *audit.Recorder
	security config.SecurityConfig
	now      func() time.Time
}

// NewManager wires the session lifecycle. enc may be nil when
// encryption at rest is disabled.
func NewManager(st *store.Store, enc *encryption.Manager, recorder *audit.Recorder, security config.SecurityConfig) *Manager {
	return &Manager{
		store:    st,
		enc:      enc,
		recorder: recorder,
		security: security,
		now:      time.Now,
	}
}

// Create starts a new session for the user, replacing any existing one.
func (m *Manager) Create(userID, username, role, companyID string, signals Signals) (*Record, error) {
	// An existing session is destroyed silently; the new login wins.
	if existing, ok := m.load(); ok {
		m.destroy(existing, audit.EventSessionDestroyed, "replaced by new login")
	}

	now := m.now()
	rec := &Record{
		ID:           uuid.New().String(),
		UserID:       userID,
		Username:     username,
		Role:         role,
		CompanyID:    companyID,
		CSRFToken:    newCSRFToken(),
		Fingerprint:  ComputeFingerprint(signals),
		UserAgent:    signals.UserAgent,
		CreatedAt:    now.UnixMilli(),
		LastActivity: now.UnixMilli(),
		ExpiresAt:    now.Add(m.security.SessionTimeout).UnixMilli(),
	}

	// Key derivation binds to the session before the record is
	// written, so the session record itself is sealed under the new
	// session key.
	if m.enc != nil {
		m.enc.SetSession(rec.ID)
	}

	if !m.persist(rec, now) {
		if m.enc != nil {
			m.enc.ClearSession()
		}
		return nil, errors.New("failed to persist session")
	}

	m.recorder.Record(audit.EventSessionCreated, audit.Event{
		SessionID: rec.ID,
		UserID:    userID,
		UserAgent: signals.UserAgent,
	})

	util.Info("Session created",
		zap.String("session_id", rec.ID),
		zap.String("user_id", userID),
		zap.String("role", role))

	return rec, nil
}

// Current validates the stored session against the caller's signals and
// returns it with its activity window refreshed. Any validation failure
// destroys the session.
func (m *Manager) Current(signals Signals) (*Record, error) {
	rec, ok := m.load()
	if !ok {
		return nil, ErrNoSession
	}

	now := m.now()

	// ExpiresAt is anchored to CreatedAt; activity never moves it.
	if now.UnixMilli() >= rec.ExpiresAt {
		m.destroy(rec, audit.EventSessionExpired, "session timeout")
		return nil, ErrSessionExpired
	}

	if now.UnixMilli()-rec.LastActivity > m.security.InactivityTimeout.Milliseconds() {
		m.destroy(rec, audit.EventSessionExpired, "inactivity timeout")
		return nil, ErrSessionExpired
	}

	current := ComputeFingerprint(signals)
	if ratio := rec.Fingerprint.MatchRatio(current); ratio < fingerprintTolerance {
		m.recorder.Record(audit.EventFingerprint, audit.Event{
			SessionID: rec.ID,
			UserID:    rec.UserID,
			UserAgent: signals.UserAgent,
			Details:   map[string]interface{}{"match_ratio": ratio},
		})
		m.destroy(rec, audit.EventSessionInvalid, "fingerprint mismatch")
		return nil, ErrSessionInvalid
	}

	if m.looksHijacked(rec, signals, now) {
		m.destroy(rec, audit.EventSessionHijack, "hijack heuristic")
		return nil, ErrSessionInvalid
	}

	// Only the inactivity window slides with activity.
	rec.LastActivity = now.UnixMilli()
	if !m.persist(rec, now) {
		util.Warn("Failed to refresh session activity", zap.String("session_id", rec.ID))
	}

	return rec, nil
}

// Destroy ends the current session, if any.
func (m *Manager) Destroy(reason string) {
	rec, ok := m.load()
	if !ok {
		return
	}
	m.destroy(rec, audit.EventSessionDestroyed, reason)
}

// RotateCSRF issues a fresh CSRF token for the active session.
func (m *Manager) RotateCSRF() (string, error) {
	rec, ok := m.load()
	if !ok {
		return "", ErrNoSession
	}
	rec.CSRFToken = newCSRFToken()
	if !m.persist(rec, m.now()) {
		return "", errors.New("failed to persist rotated token")
	}
	return rec.CSRFToken, nil
}

// persist writes the session slot with a store-level TTL matching the
// remaining absolute lifetime, so slot expiry tracks the session even
// if validation never runs again.
func (m *Manager) persist(rec *Record, now time.Time) bool {
	ttl := time.Duration(rec.ExpiresAt-now.UnixMilli()) * time.Millisecond
	return m.store.SetWithTTL(sessionSlotKey, rec, ttl)
}

// ValidateCSRF checks a submitted token against the active session.
func (m *Manager) ValidateCSRF(token string) bool {
	rec, ok := m.load()
	if !ok {
		return false
	}
	return token != "" && token == rec.CSRFToken
}

// looksHijacked applies the replay heuristic: a changed user agent, or
// a day-old session still being driven at short intervals.
func (m *Manager) looksHijacked(rec *Record, signals Signals, now time.Time) bool {
	if rec.UserAgent != "" && signals.UserAgent != "" && rec.UserAgent != signals.UserAgent {
		return true
	}
	age := now.UnixMilli() - rec.CreatedAt
	gap := now.UnixMilli() - rec.LastActivity
	return age > maxSessionAge.Milliseconds() && gap < rapidActivityWindow.Milliseconds()
}

func (m *Manager) load() (*Record, bool) {
	var rec Record
	if !m.store.Get(sessionSlotKey, &rec) || rec.ID == "" {
		return nil, false
	}
	// Rebind key derivation after a restart, so refreshed writes seal
	// under the session key instead of the legacy fallback.
	if m.enc != nil {
		m.enc.SetSession(rec.ID)
	}
	return &rec, true
}

func (m *Manager) destroy(rec *Record, eventType, reason string) {
	m.store.Remove(sessionSlotKey)
	if m.enc != nil {
		m.enc.ClearSession()
	}
	m.recorder.Record(eventType, audit.Event{
		SessionID: rec.ID,
		UserID:    rec.UserID,
		Details:   map[string]interface{}{"reason": reason},
	})
	util.Info("Session ended",
		zap.String("session_id", rec.ID),
		zap.String("reason", reason))
}

func newCSRFToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read failing means the platform RNG is broken.
		util.Fatal("Failed to generate CSRF token", zap.Error(err))
	}
	return hex.EncodeToString(buf)
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}
