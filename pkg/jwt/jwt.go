// Package jwt issues and verifies the HS256 tokens that identify promptr users
// and provides the HTTP middleware that puts the authenticated user id into
// the request context.
package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	HeaderType      = "JWT"
	HeaderAlgorithm = "HS256"
)

type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// Claims are the token claims promptr issues. UserID mirrors the `id` claim
// older clients send; Subject is the registered claim. Either identifies the user.
type Claims struct {
	UserID    string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// User returns the user id carried by the claims.
func (c Claims) User() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Valid validates temporal claims. Zero values are treated as unset.
func (c Claims) Valid() error {
	now := time.Now().Unix()
	if c.ExpiresAt > 0 && now > c.ExpiresAt {
		return ErrExpiredToken
	}
	if c.NotBefore > 0 && now < c.NotBefore {
		return ErrInvalidToken
	}
	if c.User() == "" {
		return ErrMissingSubject
	}
	return nil
}

// Service signs and verifies tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
}

// NewFromString creates a Service from a string signing key.
func NewFromString(signingKey, issuer string) (*Service, error) {
	if signingKey == "" {
		return nil, ErrMissingSigningKey
	}
	return &Service{signingKey: []byte(signingKey), issuer: issuer}, nil
}

// Issue creates a token for userID valid for ttl.
func (s *Service) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	return s.Generate(Claims{
		UserID:    userID,
		Email:     email,
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
}

// Generate signs claims.
func (s *Service) Generate(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(header{Type: HeaderType, Algorithm: HeaderAlgorithm})
	if err != nil {
		return "", fmt.Errorf("failed to marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	payload := encode(headerJSON) + "." + encode(claimsJSON)
	return payload + "." + s.sign(payload), nil
}

// Parse verifies the token signature and algorithm, then validates the claims.
func (s *Service) Parse(token string) (Claims, error) {
	var claims Claims

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims, ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(s.sign(payload))) != 1 {
		return claims, ErrInvalidSignature
	}

	headerJSON, err := decode(parts[0])
	if err != nil {
		return claims, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return claims, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	if h.Algorithm != HeaderAlgorithm {
		return claims, ErrUnexpectedSigningMethod
	}

	claimsJSON, err := decode(parts[1])
	if err != nil {
		return claims, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return claims, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}

	if err := claims.Valid(); err != nil {
		return claims, err
	}
	return claims, nil
}

func (s *Service) sign(payload string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(payload))
	return encode(h.Sum(nil))
}

func encode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
