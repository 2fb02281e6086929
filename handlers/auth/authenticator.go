package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"notion-collab/core"

	"github.com/sirupsen/logrus"
)

// Authenticator turns a handshake credential into an Identity. It is
// consulted once per connection.
type Authenticator struct {
	users     core.UserStore
	revoked   RevocationList
	verifiers []TokenVerifier
}

func NewAuthenticator(users core.UserStore, revoked RevocationList, verifiers ...TokenVerifier) *Authenticator {
	return &Authenticator{users: users, revoked: revoked, verifiers: verifiers}
}

func (a *Authenticator) Authenticate(ctx context.Context, credential string) (core.Identity, *Principal, error) {
	if credential == "" {
		return core.Identity{}, nil, fmt.Errorf("authentication required: %w", ErrInvalidCredential)
	}

	principal, err := a.verify(ctx, credential)
	if err != nil {
		return core.Identity{}, nil, err
	}

	if principal.TokenID == "" {
		principal.TokenID = tokenDigest(credential)
	}

	if a.revoked != nil {
		revoked, err := a.revoked.IsRevoked(ctx, principal.TokenID)
		if err != nil {
			return core.Identity{}, nil, fmt.Errorf("failed to check revocation: %w", err)
		}
		if revoked {
			return core.Identity{}, nil, fmt.Errorf("token revoked: %w", ErrInvalidCredential)
		}
	}

	var user *core.User
	if principal.UserID != "" {
		user, err = a.users.GetUser(ctx, principal.UserID)
	} else {
		user, err = a.users.GetUserByEmail(ctx, principal.Email)
	}
	if errors.Is(err, core.ErrNotFound) {
		return core.Identity{}, nil, ErrUserNotFound
	}
	if err != nil {
		return core.Identity{}, nil, fmt.Errorf("failed to load user: %w", err)
	}
	principal.UserID = user.ID
	return core.IdentityOf(user), principal, nil
}

func (a *Authenticator) verify(ctx context.Context, credential string) (*Principal, error) {
	for _, v := range a.verifiers {
		p, err := v.Verify(ctx, credential)
		if err == nil {
			return p, nil
		}
		logrus.WithError(err).Debugf("%T rejected credential", v)
	}
	return nil, ErrInvalidCredential
}

// tokenDigest identifies tokens that carry no jti claim, such as legacy
// session tokens and OIDC ID tokens.
func tokenDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Revoke blacklists the token behind p until it would have expired anyway.
func (a *Authenticator) Revoke(ctx context.Context, p *Principal) error {
	if p == nil || p.TokenID == "" || a.revoked == nil {
		return nil
	}
	return a.revoked.Revoke(ctx, p.TokenID, p.ExpiresAt)
}
