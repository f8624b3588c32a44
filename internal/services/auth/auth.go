// Package auth resolves bearer tokens to verified user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnauthorized is wrapped by every verification failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingToken means the request carried no bearer credential.
	ErrMissingToken = fmt.Errorf("%w: no token provided", ErrUnauthorized)
)

// Verifier checks a bearer token and returns the identity it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// NewVerifier builds the verifier selected by cfg.Mode.
func NewVerifier(cfg *config.AuthConfig, logger *logrus.Logger) (Verifier, error) {
	switch cfg.Mode {
	case "hmac":
		return NewHMACVerifier(cfg.HMACSecret, cfg.Issuer, cfg.Audience), nil
	case "firebase":
		return NewFirebaseVerifier(cfg.Firebase.ProjectID, cfg.Firebase.CertsURL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// tokenClaims covers both self-issued tokens and Firebase ID tokens,
// which also carry the uid as user_id.
type tokenClaims struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) identity() (*models.Identity, error) {
	uid := c.Subject
	if uid == "" {
		uid = c.UserID
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &models.Identity{UserID: uid, Email: c.Email, Issuer: c.Issuer}, nil
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewHMACVerifier(secret, issuer, audience string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

func (v *HMACVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims.identity()
}

// IssueHMACToken signs an HS256 token for userID. Used by tooling and tests
// to mint credentials accepted by HMACVerifier.
func IssueHMACToken(secret, userID, email string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &tokenClaims{Email: email, RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}
