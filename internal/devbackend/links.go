package devbackend

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
)

const (
	linkIssuer   = "verifyflow-devbackend"
	linkAudience = "verifyflow-verify"
	linkKeyInfo  = "verifyflow verification link"
)

// LinkClaims are carried by a verification link token.
type LinkClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Links issues and validates signed verification links.
type Links struct {
	signingKey []byte
	baseURL    string
	ttl        time.Duration
	now        func() time.Time
}

// NewLinks derives the HMAC key from secret. Links point at
// baseURL + "/verify/{token}".
func NewLinks(secret, baseURL string, ttl time.Duration) (*Links, error) {
	if secret == "" {
		return nil, errors.New("link signing secret is required")
	}
	if baseURL == "" {
		return nil, errors.New("public URL is required")
	}
	if ttl <= 0 {
		return nil, errors.New("link ttl must be positive")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(linkKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive link key: %w", err)
	}
	return &Links{signingKey: key, baseURL: baseURL, ttl: ttl, now: time.Now}, nil
}

// Issue returns the verification URL for sessionID, valid from now for the
// configured ttl.
func (l *Links) Issue(sessionID domain.SessionID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, LinkClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    linkIssuer,
			Audience:  []string{linkAudience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(l.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign verification link: %w", err)
	}
	return l.baseURL + "/verify/" + signed, nil
}

// Validate checks a token taken from a verification URL and returns the
// session it was issued for.
func (l *Links) Validate(tokenString string) (domain.SessionID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return l.signingKey, nil
	},
		jwt.WithIssuer(linkIssuer),
		jwt.WithAudience(linkAudience),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "verification link has expired")
		}
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid verification link")
	}

	claims, ok := parsed.Claims.(*LinkClaims)
	if !ok || !parsed.Valid {
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid verification link")
	}
	id, err := domain.ParseSessionID(claims.SessionID)
	if err != nil {
		return domain.SessionID{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid verification link")
	}
	return id, nil
}
