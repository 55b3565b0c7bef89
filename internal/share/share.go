// Package share implements ShareManager: ephemeral, capability-style tokens
// granting read-only access to a single session (spec §4.5).
//
// Grounded on the teacher's server/exposedurls.go (per-resource token
// record with an expiry, lazily swept on lookup rather than by a
// background timer) and server/auth's token-generation pattern
// (crypto/rand, hex-encoded), restricted here to the read-only,
// no-login-required share scope the spec defines.
package share

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/xhd2015/ttyd-mux/internal/apierr"
	"github.com/xhd2015/ttyd-mux/internal/state"
)

// tokenBytes is the amount of random data backing each share token: 16
// bytes hex-encode to 32 lowercase hex characters, per spec §4.5.
const tokenBytes = 16

// DefaultTTL is used when CreateShare's expiresIn is empty or unparsable.
const DefaultTTL = time.Hour

// Manager issues, validates, and revokes share tokens.
type Manager struct {
	store state.Store
}

func New(store state.Store) *Manager {
	return &Manager{store: store}
}

// GenerateToken returns a fresh, cryptographically random 32-character
// lowercase hex token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("share: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var expiresInPattern = regexp.MustCompile(`^(\d+)([hmd])$`)

// ParseExpiresIn parses strings like "2h", "30m", "1d" into a duration.
// Anything that doesn't match — empty, malformed, a bare number, an
// unrecognized unit — falls back to DefaultTTL, per spec §4.5 ("unparsable
// input yields the default").
func ParseExpiresIn(s string) time.Duration {
	m := expiresInPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultTTL
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultTTL
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour
	case "m":
		return time.Duration(n) * time.Minute
	case "d":
		return time.Duration(n) * 24 * time.Hour
	default:
		return DefaultTTL
	}
}

// CreateShare issues a new share token for sessionName, implementing spec
// §4.5 createShare.
func (m *Manager) CreateShare(sessionName string, expiresIn string) (*state.Share, error) {
	sess, err := m.store.FindSessionByName(sessionName)
	if err != nil {
		return nil, apierr.StateIO("look up session", err)
	}
	if sess == nil {
		return nil, apierr.NotFound("session %q not found", sessionName)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, apierr.Internal("generate share token", err)
	}

	now := time.Now()
	ttl := ParseExpiresIn(expiresIn)
	sh := state.Share{
		Token:       token,
		SessionName: sessionName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := m.store.AddShare(sh); err != nil {
		return nil, apierr.StateIO("record share", err)
	}
	return &sh, nil
}

// ValidateShare looks up token and returns its backing session, applying
// the lazy-expiry sweep described in spec §4.5: an expired share is treated
// as not-found and removed on the way out, rather than waited on by a
// background timer.
func (m *Manager) ValidateShare(token string) (*state.Session, error) {
	sh, err := m.store.GetShare(token)
	if err != nil {
		return nil, apierr.StateIO("look up share", err)
	}
	if sh == nil {
		return nil, apierr.NotFound("share token not found")
	}
	if sh.Expired(time.Now()) {
		_ = m.store.RemoveShare(token)
		return nil, apierr.NotFound("share token expired")
	}

	sess, err := m.store.FindSessionByName(sh.SessionName)
	if err != nil {
		return nil, apierr.StateIO("look up session", err)
	}
	if sess == nil {
		// Dangling shares are permitted: the session may come back under the
		// same name later, at which point this same token should resolve
		// again. Only expiry (above) and explicit revocation remove the
		// record, per spec §3 invariant 2.
		return nil, apierr.NotFound("share %q points to a session that is not currently running", token)
	}
	return sess, nil
}

// RevokeShare deletes a share token immediately, independent of expiry.
func (m *Manager) RevokeShare(token string) error {
	sh, err := m.store.GetShare(token)
	if err != nil {
		return apierr.StateIO("look up share", err)
	}
	if sh == nil {
		return apierr.NotFound("share token not found")
	}
	if err := m.store.RemoveShare(token); err != nil {
		return apierr.StateIO("revoke share", err)
	}
	return nil
}

// ListShares returns every recorded share, expired or not; callers that
// want only live shares should filter with Expired themselves or call
// CleanupExpiredShares first.
func (m *Manager) ListShares() ([]state.Share, error) {
	shares, err := m.store.ListShares()
	if err != nil {
		return nil, apierr.StateIO("list shares", err)
	}
	return shares, nil
}

// CleanupExpiredShares removes every share past its expiry, for the
// periodic sweep a daemon may run in addition to ValidateShare's lazy one.
func (m *Manager) CleanupExpiredShares() (int, error) {
	shares, err := m.store.ListShares()
	if err != nil {
		return 0, apierr.StateIO("list shares", err)
	}
	now := time.Now()
	removed := 0
	for _, sh := range shares {
		if sh.Expired(now) {
			if err := m.store.RemoveShare(sh.Token); err != nil {
				return removed, apierr.StateIO("remove expired share", err)
			}
			removed++
		}
	}
	return removed, nil
}
