package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/ncecere/llm_gateway/internal/config"
)

// TokenVerifier validates federated bearer tokens against the issuer
// and extracts the gateway username for them.
type TokenVerifier struct {
	cfg      config.OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

func NewTokenVerifier(ctx context.Context, cfg config.OIDCConfig) (*TokenVerifier, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	discoverCtx := oidc.ClientContext(ctx, &http.Client{Timeout: timeout})

	provider, err := oidc.NewProvider(discoverCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &TokenVerifier{
		cfg:      cfg,
		provider: provider,
		verifier: verifier,
	}, nil
}

// Verify checks the token signature, issuer, audience, and expiry, then
// resolves the username. Machine tokens carry the configured scope and
// name the user in a claim directly; interactive tokens require a
// userinfo round trip.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("%w: verify token: %v", ErrUnauthorized, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("%w: parse token claims: %v", ErrUnauthorized, err)
	}

	if v.hasMachineScope(claims) {
		username, _ := claims[v.cfg.UsernameClaim].(string)
		if username == "" {
			return "", fmt.Errorf("%w: machine token missing %s claim", ErrUnauthorized, v.cfg.UsernameClaim)
		}
		return username, nil
	}

	return v.usernameFromUserInfo(ctx, rawToken)
}

func (v *TokenVerifier) hasMachineScope(claims map[string]any) bool {
	if v.cfg.MachineScope == "" {
		return false
	}
	scope, _ := claims["scope"].(string)
	for _, s := range strings.Fields(scope) {
		if s == v.cfg.MachineScope {
			return true
		}
	}
	return false
}

func (v *TokenVerifier) usernameFromUserInfo(ctx context.Context, rawToken string) (string, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rawToken, TokenType: "Bearer"})
	userInfo, err := v.provider.UserInfo(ctx, source)
	if err != nil {
		return "", fmt.Errorf("%w: fetch userinfo: %v", ErrUnauthorized, err)
	}

	var claims map[string]any
	if err := userInfo.Claims(&claims); err != nil {
		return "", fmt.Errorf("%w: parse userinfo claims: %v", ErrUnauthorized, err)
	}

	username, _ := claims[v.cfg.UsernameClaim].(string)
	if username == "" {
		return "", fmt.Errorf("%w: username not present in userinfo claims", ErrUnauthorized)
	}
	return username, nil
}
