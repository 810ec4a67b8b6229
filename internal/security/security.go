// Package security implements the gate that sits in front of every other
// component: content sanitization, optional authenticated encryption,
// rate-limited access checks, and a best-effort audit journal.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

// ErrEncryptionKey signals a missing or unusable encryption key. Decrypt
// fails closed with it rather than handing back ciphertext or plaintext.
var ErrEncryptionKey = errors.New("security: missing or invalid encryption key")

// RedactionMarker replaces every sensitive match. The marker matches none of
// the sensitive patterns, which is what makes Sanitize idempotent.
const RedactionMarker = "[REDACTED]"

const gcmTagSize = 16

// sensitivePatterns are the fixed matcher families: long opaque tokens,
// JWT-shaped strings, provider-prefixed API keys, IPv4 addresses, and
// key/value credential pairs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\b`),
	regexp.MustCompile(`\b(?:sk-|pk-|xox[baprs]-|ghp_)[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)(?:token|secret|key)\s*[=:]\s*\S+`),
}

// Envelope carries ciphertext with the nonce and auth tag needed to open it.
// Encrypted=false passes data through untouched when encryption is disabled.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	Nonce     string `json:"nonce,omitempty"`
	AuthTag   string `json:"auth_tag,omitempty"`
	Data      string `json:"data"`
}

// Status is the gate's contribution to aggregate status.
type Status struct {
	Enabled           bool `json:"enabled"`
	EncryptionEnabled bool `json:"encryption_enabled"`
	AuditLogEnabled   bool `json:"audit_log_enabled"`
	AccessControl     bool `json:"access_control"`
	SensitiveKeywords int  `json:"sensitive_keywords"`
	TrackedPrincipals int  `json:"tracked_principals"`
}

// Gate sanitizes, encrypts, and rate-limits access to memory entries.
type Gate struct {
	cfg       config.SecurityConfig
	auditPath string
	key       []byte
	log       *slog.Logger

	mu     sync.Mutex
	access map[string][]time.Time
	now    func() time.Time
}

// New builds a Gate rooted at root. When encryption is enabled without a
// configured key, a fresh key is generated for the process lifetime.
func New(cfg config.SecurityConfig, root string) (*Gate, error) {
	g := &Gate{
		cfg:       cfg,
		auditPath: filepath.Join(root, "logs", "security-audit.log"),
		log:       slog.With("component", "security"),
		access:    make(map[string][]time.Time),
		now:       time.Now,
	}
	if cfg.EncryptionEnabled {
		if cfg.EncryptionKey != "" {
			key, err := hex.DecodeString(cfg.EncryptionKey)
			if err != nil || len(key) != 32 {
				return nil, fmt.Errorf("%w: want 64 hex chars", ErrEncryptionKey)
			}
			g.key = key
		} else {
			g.key = make([]byte, 32)
			if _, err := rand.Read(g.key); err != nil {
				return nil, fmt.Errorf("security: generate key: %w", err)
			}
		}
	}
	return g, nil
}

// Sanitize replaces every sensitive match in the entry content with the
// redaction marker. Re-sanitizing already-redacted content is a no-op.
func (g *Gate) Sanitize(e model.MemoryEntry) model.MemoryEntry {
	if !g.cfg.Enabled {
		return e
	}

	sanitized := e.Content
	redactions := 0
	for _, re := range sensitivePatterns {
		sanitized = re.ReplaceAllStringFunc(sanitized, func(string) string {
			redactions++
			return RedactionMarker
		})
	}

	e.Content = sanitized
	if redactions > 0 {
		e.Redacted = true
		g.audit("sanitize", map[string]any{"redactions": redactions})
	}
	if g.isSensitive(sanitized) {
		e.Sensitive = true
	}
	return e
}

// isSensitive flags content mentioning any configured sensitive keyword.
// Keyword hits mark the entry without redacting it.
func (g *Gate) isSensitive(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range g.cfg.SensitivePatterns {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Encrypt seals data with AES-256-GCM. With encryption disabled the payload
// passes through unchanged in a plaintext envelope.
func (g *Gate) Encrypt(data []byte) (Envelope, error) {
	if !g.cfg.EncryptionEnabled {
		return Envelope{Encrypted: false, Data: string(data)}, nil
	}
	if g.key == nil {
		return Envelope{}, ErrEncryptionKey
	}

	block, err := aes.NewCipher(g.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("security: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("security: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("security: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, data, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return Envelope{
		Encrypted: true,
		Nonce:     hex.EncodeToString(nonce),
		AuthTag:   hex.EncodeToString(tag),
		Data:      hex.EncodeToString(ct),
	}, nil
}

// Decrypt opens an envelope. A plaintext envelope passes through; an
// encrypted one without a usable key fails with ErrEncryptionKey.
func (g *Gate) Decrypt(env Envelope) ([]byte, error) {
	if !env.Encrypted {
		return []byte(env.Data), nil
	}
	if g.key == nil {
		return nil, ErrEncryptionKey
	}

	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	ct, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext: %w", err)
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("security: decode auth tag: %w", err)
	}

	block, err := aes.NewCipher(g.key)
	if err != nil {
		return nil, fmt.Errorf("security: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: gcm: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionKey, err)
	}
	return plain, nil
}

// CheckAccess applies a sliding-window rate limit per (principal, resource)
// pair. Every attempt, allowed or denied, is audited.
func (g *Gate) CheckAccess(principal, resourceID, action string) bool {
	if !g.cfg.AccessControl {
		return true
	}

	limit := g.cfg.RateLimitPerSec
	if limit <= 0 {
		limit = 10
	}

	g.mu.Lock()
	key := principal + ":" + resourceID
	now := g.now()
	cutoff := now.Add(-time.Second)
	recent := g.access[key][:0]
	for _, t := range g.access[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	denied := len(recent) >= limit
	if !denied {
		recent = append(recent, now)
	}
	g.access[key] = recent
	g.mu.Unlock()

	if denied {
		g.audit("rate_limited", map[string]any{"principal": principal, "resource": resourceID, "action": action})
		return false
	}
	g.audit("access", map[string]any{"principal": principal, "resource": resourceID, "action": action})
	return true
}

// audit appends a record to the JSONL audit journal. Audit failures never
// abort the caller's primary operation.
func (g *Gate) audit(action string, details map[string]any) {
	if !g.cfg.AuditLog {
		return
	}
	rec := map[string]any{
		"id":        ulid.Make().String(),
		"timestamp": g.now().UTC().Format(time.RFC3339),
		"action":    action,
	}
	for k, v := range details {
		rec[k] = v
	}
	if err := storage.AppendLine(g.auditPath, rec); err != nil {
		g.log.Debug("audit append failed", "err", err)
	}
}

// Status reports the gate configuration and limiter state.
func (g *Gate) Status() Status {
	g.mu.Lock()
	tracked := len(g.access)
	g.mu.Unlock()
	return Status{
		Enabled:           g.cfg.Enabled,
		EncryptionEnabled: g.cfg.EncryptionEnabled,
		AuditLogEnabled:   g.cfg.AuditLog,
		AccessControl:     g.cfg.AccessControl,
		SensitiveKeywords: len(g.cfg.SensitivePatterns),
		TrackedPrincipals: tracked,
	}
}
