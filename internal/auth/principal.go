// Package auth resolves request credentials to a caller identity.
package auth

import "errors"

// ErrUnauthorized indicates the credential could not be resolved to a
// valid caller.
var ErrUnauthorized = errors.New("auth: unauthorized")

// CredentialKind records which credential type authenticated a request.
type CredentialKind string

const (
	CredentialAPIKey CredentialKind = "api_key"
	CredentialJWT    CredentialKind = "jwt"
)

// Principal is the resolved caller identity attached to a request.
type Principal struct {
	Username string
	Kind     CredentialKind
	// APIKeyName is set only for api-key credentials.
	APIKeyName string
	IsAdmin    bool
}
