package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/crypto/argon2"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Argon2id parameters for session key derivation.
const (
	keyDerivationTime    = 1
	keyDerivationMemory  = 64 * 1024
	keyDerivationThreads = 4
	derivedKeyLen        = 32 // AES-256
)

// envelope is the serialized form of an encrypted record body. The
// session ID and DEK material travel in the clear; only Payload is
// sealed.
type envelope struct {
	SessionID    string    `json:"session_id,omitempty"`
	EncryptedDEK string    `json:"encrypted_dek,omitempty"`
	KeyID        string    `json:"key_id,omitempty"`
	Payload      string    `json:"payload"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager provides AES-GCM encryption at rest. With KMS enabled it uses
// envelope encryption with a per-record data key; otherwise keys are
// derived from the active session ID, a static salt and a daily time
// bucket, with a legacy static key as the final decryption fallback so
// data written before the key rotation scheme still opens.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // derived and decrypted keys

	mu        sync.RWMutex
	sessionID string

	now func() time.Time
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
		now:       time.Now,
	}
}

// SetSession binds the key derivation to the active session. Cached
// keys for older sessions stay usable for decryption until ClearCache.
func (m *Manager) SetSession(sessionID string) {
	m.mu.Lock()
	m.sessionID = sessionID
	m.mu.Unlock()
}

// ClearSession detaches key derivation from the session. Subsequent
// writes fall back to the legacy key.
func (m *Manager) ClearSession() {
	m.SetSession("")
}

// Encrypt seals plaintext into a self-describing envelope.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	if m.config.Encryption.KMSEnabled {
		return m.encryptWithKMS(context.Background(), plaintext)
	}

	m.mu.RLock()
	sessionID := m.sessionID
	m.mu.RUnlock()

	key := m.derivedKey(sessionID, m.dayBucket(0))
	payload, err := sealWithKey(plaintext, key)
	if err != nil {
		return nil, err
	}

	return json.Marshal(&envelope{
		SessionID: sessionID,
		Payload:   payload,
		Version:   "v1",
		CreatedAt: m.now().UTC(),
	})
}

// Decrypt opens an envelope produced by Encrypt. For session-derived
// keys it tries the current daily bucket, then the previous one, then
// the legacy static key, so records written just before a bucket
// rollover or under the old scheme still decrypt.
func (m *Manager) Decrypt(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}

	if env.EncryptedDEK != "" {
		return m.decryptWithKMS(context.Background(), &env)
	}

	candidates := []struct {
		key  []byte
		name string
	}{
		{m.derivedKey(env.SessionID, m.dayBucket(0)), "current"},
		{m.derivedKey(env.SessionID, m.dayBucket(-1)), "previous"},
		{m.legacyKey(), "legacy"},
	}

	var lastErr error
	for _, c := range candidates {
		plaintext, err := openWithKey(env.Payload, c.key)
		if err == nil {
			if c.name == "legacy" {
				util.Debug("Record decrypted with legacy key")
			}
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: all key candidates exhausted: %v", ErrDecryptionFailed, lastErr)
}

func (m *Manager) encryptWithKMS(ctx context.Context, plaintext []byte) ([]byte, error) {
	dataKey, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := sealWithKey(plaintext, dataKey.plaintext)
	if err != nil {
		return nil, err
	}

	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.ciphertext)
	m.keyCache.Store(encryptedDEK, dataKey.plaintext)

	return json.Marshal(&envelope{
		EncryptedDEK: encryptedDEK,
		KeyID:        dataKey.keyID,
		Payload:      payload,
		Version:      "v1",
		CreatedAt:    m.now().UTC(),
	})
}

func (m *Manager) decryptWithKMS(ctx context.Context, env *envelope) ([]byte, error) {
	if cached, ok := m.keyCache.Load(env.EncryptedDEK); ok {
		return openWithKey(env.Payload, cached.([]byte))
	}

	ciphertextBlob, err := base64.StdEncoding.DecodeString(env.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertextBlob,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
	}

	m.keyCache.Store(env.EncryptedDEK, result.Plaintext)
	return openWithKey(env.Payload, result.Plaintext)
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.Encryption.KMSKeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
		keyID:      m.config.Encryption.KMSKeyID,
	}, nil
}

// derivedKey derives an AES-256 key from the session ID, static salt
// and a daily bucket. An empty session ID degrades to the legacy key.
func (m *Manager) derivedKey(sessionID, bucket string) []byte {
	if sessionID == "" {
		return m.legacyKey()
	}

	cacheKey := sessionID + "|" + bucket
	if cached, ok := m.keyCache.Load(cacheKey); ok {
		return cached.([]byte)
	}

	key := argon2.IDKey(
		[]byte(sessionID),
		[]byte(m.config.Security.StaticSalt+bucket),
		keyDerivationTime, keyDerivationMemory, keyDerivationThreads, derivedKeyLen)

	m.keyCache.Store(cacheKey, key)
	return key
}

func (m *Manager) legacyKey() []byte {
	cacheKey := "legacy|" + m.config.Security.LegacyKey
	if cached, ok := m.keyCache.Load(cacheKey); ok {
		return cached.([]byte)
	}

	key := argon2.IDKey(
		[]byte(m.config.Security.LegacyKey),
		[]byte(m.config.Security.StaticSalt),
		keyDerivationTime, keyDerivationMemory, keyDerivationThreads, derivedKeyLen)

	m.keyCache.Store(cacheKey, key)
	return key
}

// dayBucket returns the UTC date bucket offset by the given number of
// days, the rotation granularity for derived keys.
func (m *Manager) dayBucket(offsetDays int) string {
	return m.now().UTC().AddDate(0, 0, offsetDays).Format("2006-01-02")
}

func sealWithKey(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func openWithKey(payload string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ClearCache drops every cached key.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}

// CacheSize returns the number of cached keys.
func (m *Manager) CacheSize() int {
	count := 0
	m.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}
