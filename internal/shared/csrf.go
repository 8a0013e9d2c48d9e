package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/google/uuid"
)

const (
	// CSRFSessionKey is the key used to persist tokens in the session store.
	CSRFSessionKey = "csrf_token"
	// CSRFHeader carries the token on unsafe requests.
	CSRFHeader = "X-CSRF-Token"

	csrfPrincipalKey = "csrf_principal"
)

// CSRFManager issues and verifies CSRF tokens. A token is bound to the session
// and to the principal the session carried when the token was issued, so a
// token obtained before sign-in is useless afterwards.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, issuing a new one when none exists
// or the session principal changed since issuance.
func (m *CSRFManager) EnsureToken(_ context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", ErrCSRFTokenMissing
	}
	if token := sess.Get(CSRFSessionKey); token != "" && sess.Get(csrfPrincipalKey) == sess.Principal() {
		return token, nil
	}
	token := m.issue(sess.ID, sess.Principal())
	sess.Set(CSRFSessionKey, token)
	sess.Set(csrfPrincipalKey, sess.Principal())
	return token, nil
}

// VerifyToken compares the supplied token with the session token.
func (m *CSRFManager) VerifyToken(_ context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" {
		return ErrCSRFTokenMissing
	}
	if sess.Get(csrfPrincipalKey) != sess.Principal() {
		return ErrCSRFTokenMismatch
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) issue(sessionID, principal string) string {
	mac := hmac.New(sha256.New, m.secret)
	for _, part := range []string{sessionID, principal, uuid.NewString()} {
		_, _ = mac.Write([]byte(part))
		_, _ = mac.Write([]byte{'|'})
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
