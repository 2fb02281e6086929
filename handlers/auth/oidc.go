package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
)

// OIDCClaims represents the claims from OIDC token
type OIDCClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Sub           string `json:"sub"`
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCVerifier accepts ID tokens from an external issuer. Users are matched
// by email, so only the email claim is carried into the principal.
type OIDCVerifier struct {
	verifier idTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	logrus.WithField("issuer", issuerURL).Info("OIDC provider initialized")
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims from ID token: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token has no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, fmt.Errorf("email %s is not verified", claims.Email)
	}
	return &Principal{
		Email:     claims.Email,
		ExpiresAt: idToken.Expiry,
	}, nil
}
