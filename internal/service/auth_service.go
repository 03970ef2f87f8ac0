package service

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/audit"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/hashing"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/notify"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/session"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/throttle"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrDemoExpired        = errors.New("demo account exhausted")
)

// Developer logins land in a reserved company so their data never mixes
// with a real tenant.
const (
	developerUsername = "developer"
	developerCompany  = "DEV000"
)

const demoUsageKeyPrefix = "demo_usage_"

type userRecord struct {
	credentials *hashing.HashResult
	role        string
	companyID   string
}

// UsageStore tracks demo account consumption.
type UsageStore interface {
	Set(key string, value interface{}) bool
	Get(key string, out interface{}) bool
}

// AuthService orchestrates login and logout: throttle check, credential
// verification, demo limits, session creation and the audit trail.
type AuthService struct {
	config   *config.Config
	hasher   *hashing.Hasher
	sessions *session.Manager
	throttle *throttle.Throttle
	recorder *audit.Recorder
	notifier *notify.Manager
	usage    UsageStore
	users    map[string]userRecord
}

func NewAuthService(
	cfg *config.Config,
	hasher *hashing.Hasher,
	sessions *session.Manager,
	thr *throttle.Throttle,
	recorder *audit.Recorder,
	notifier *notify.Manager,
	usage UsageStore,
) (*AuthService, error) {
	// Seeded passwords are hashed once at startup; plaintext never
	// leaves the config layer.
	users := make(map[string]userRecord, len(cfg.Users))
	for username, seed := range cfg.Users {
		hashed, err := hasher.HashPassword(seed.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash seeded credentials for %q: %w", username, err)
		}
		users[username] = userRecord{
			credentials: hashed,
			role:        seed.Role,
			companyID:   seed.CompanyCode,
		}
	}

	return &AuthService{
		config:   cfg,
		hasher:   hasher,
		sessions: sessions,
		throttle: thr,
		recorder: recorder,
		notifier: notifier,
		usage:    usage,
		users:    users,
	}, nil
}

// Login authenticates the user and starts a session. Failures are
// throttled per username with progressive lockout.
func (s *AuthService) Login(username, password string, signals session.Signals) (*session.Record, error) {
	if util.ContainsSuspicious(username) {
		return nil, ErrInvalidCredentials
	}
	username = util.SanitizeInput(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	status := s.throttle.Check(username)
	if !status.Allowed {
		s.recorder.Record(audit.EventLoginLocked, audit.Event{
			UserID:    username,
			UserAgent: signals.UserAgent,
			Details:   map[string]interface{}{"retry_after_seconds": int(status.RetryAfter.Seconds())},
		})
		minutes := int(status.RetryAfter.Minutes()) + 1
		s.notifier.Show(
			fmt.Sprintf("تم قفل الحساب مؤقتاً. حاول مرة أخرى بعد %d دقيقة", minutes),
			notify.LevelError, 5*time.Second)
		return nil, fmt.Errorf("%w: retry after %s", ErrAccountLocked, status.RetryAfter.Round(time.Second))
	}

	extra := throttle.Extra{
		Fingerprint: session.ComputeFingerprint(signals).Digest,
		Metadata:    map[string]interface{}{"user_agent": signals.UserAgent},
	}

	user, ok := s.verify(username, password)
	if !ok {
		s.throttle.RecordFailure(username, extra)
		s.recorder.Record(audit.EventLoginFailure, audit.Event{
			UserID:    username,
			UserAgent: signals.UserAgent,
		})
		remaining := status.Remaining - 1
		if remaining < 0 {
			remaining = 0
		}
		s.notifier.Show(
			fmt.Sprintf("اسم المستخدم أو كلمة المرور غير صحيحة. المحاولات المتبقية: %d", remaining),
			notify.LevelError, 4*time.Second)
		return nil, ErrInvalidCredentials
	}

	if user.role == "demo" && !s.consumeDemoLogin(username) {
		s.notifier.Show("انتهت صلاحية الحساب التجريبي", notify.LevelWarning, 5*time.Second)
		return nil, ErrDemoExpired
	}

	s.throttle.RecordSuccess(username, extra)

	rec, err := s.sessions.Create(username, username, user.role, user.companyID, signals)
	if err != nil {
		util.Error("Failed to create session after successful login",
			zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	s.recorder.Record(audit.EventLoginSuccess, audit.Event{
		SessionID: rec.ID,
		UserID:    username,
		UserAgent: signals.UserAgent,
	})
	s.notifier.Show("مرحباً بك في بصيرة", notify.LevelSuccess, 3*time.Second)

	return rec, nil
}

// Logout ends the current session, if any.
func (s *AuthService) Logout() {
	s.sessions.Destroy("logout")
	s.notifier.Show("تم تسجيل الخروج بنجاح", notify.LevelInfo, 3*time.Second)
}

// Current returns the validated active session.
func (s *AuthService) Current(signals session.Signals) (*session.Record, error) {
	return s.sessions.Current(signals)
}

func (s *AuthService) verify(username, password string) (userRecord, bool) {
	// The developer key opens a maintenance account regardless of the
	// seeded user list.
	if s.config.Security.DeveloperKey != "" &&
		username == developerUsername &&
		password == s.config.Security.DeveloperKey {
		return userRecord{role: "developer", companyID: developerCompany}, true
	}

	user, ok := s.users[username]
	if !ok {
		// Burn a hash anyway so unknown usernames cost the same as
		// wrong passwords.
		_, _ = s.hasher.HashPassword(password)
		return userRecord{}, false
	}

	match, err := s.hasher.VerifyPassword(password, user.credentials)
	if err != nil {
		util.Warn("Credential verification failed",
			zap.String("username", username), zap.Error(err))
		return userRecord{}, false
	}
	return user, match
}

// consumeDemoLogin enforces the demo login cap. It reports false once
// the cap is reached.
func (s *AuthService) consumeDemoLogin(username string) bool {
	var used int
	key := demoUsageKeyPrefix + username
	s.usage.Get(key, &used)
	if used >= s.config.Security.DemoAttemptLimit {
		return false
	}
	s.usage.Set(key, used+1)
	return true
}
