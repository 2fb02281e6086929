package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"notion-collab/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidCredential covers missing, malformed, expired, badly signed
	// and revoked tokens.
	ErrInvalidCredential = errors.New("invalid or expired token")
	// ErrUserNotFound means the token verified but its subject no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	// LegacyID carries the numeric "id" claim of tokens minted before
	// subjects were strings.
	LegacyID json.Number `json:"id,omitempty"`
}

// Principal is what a verified token says about its bearer.
type Principal struct {
	UserID    string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Principal, error)
}

// Signer mints HS256 session tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Issue(user *core.User) (string, error) {
	now := s.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: user.Email,
		Name:  user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// JWTVerifier accepts tokens produced by a Signer sharing the same secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	claims, err := v.parse(raw)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		UserID:  claims.Subject,
		Email:   claims.Email,
		TokenID: claims.ID,
	}
	if p.UserID == "" {
		p.UserID = claims.LegacyID.String()
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (v *JWTVerifier) parse(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
