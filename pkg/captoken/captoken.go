// Package captoken issues and redeems capability tokens: short-lived signed
// credentials that let an otherwise unauthenticated recipient perform exactly
// one scoped signing action (delivery, user, role).
package captoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/khalilayoub23/fastepost-signing/pkg/domain"
)

// Claims is the decoded token payload. Expiry is absolute.
type Claims struct {
	DeliveryID string      `json:"delivery_id"`
	UserID     string      `json:"user_id"`
	Role       domain.Role `json:"role"`
	ExpiresAt  int64       `json:"exp"`
}

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func New(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// NewWithClock is for tests that need control over expiry evaluation.
func NewWithClock(secret []byte, now func() time.Time) *Issuer {
	return &Issuer{secret: secret, now: now}
}

// Issue mints an opaque token scoped to (delivery, user, role) expiring after
// ttl. A zero or negative ttl produces a token that is already expired.
func (i *Issuer) Issue(deliveryID, userID string, role domain.Role, ttl time.Duration) (string, error) {
	if !role.Valid() {
		return "", domain.ErrUnknownRole
	}
	claims := Claims{
		DeliveryID: deliveryID,
		UserID:     userID,
		Role:       role,
		ExpiresAt:  i.now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(i.sign(body)), nil
}

// Redeem validates the token signature and expiry and returns the embedded
// claims. Every failure mode collapses into domain.ErrTokenInvalid so callers
// cannot distinguish forgery from expiry.
func (i *Issuer) Redeem(token string) (Claims, error) {
	body, sigEnc, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || body == "" {
		return Claims{}, domain.ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil {
		return Claims{}, domain.ErrTokenInvalid
	}
	if !hmac.Equal(sig, i.sign(body)) {
		return Claims{}, domain.ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, domain.ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, domain.ErrTokenInvalid
	}
	if claims.DeliveryID == "" || claims.UserID == "" || !claims.Role.Valid() {
		return Claims{}, domain.ErrTokenInvalid
	}
	if !i.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return Claims{}, domain.ErrTokenInvalid
	}
	return claims, nil
}

func (i *Issuer) sign(body string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
