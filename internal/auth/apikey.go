package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	apiKeySecretLength = 48
	apiKeyPrefix       = "sk-"
	alphabet           = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAPIKey returns a new random key in presentable form. The
// plaintext is shown to the caller exactly once; only its salted digest
// is stored.
func GenerateAPIKey() (string, error) {
	secret, err := randomString(apiKeySecretLength)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + secret, nil
}

// IsAPIKey reports whether a credential looks like an API key rather
// than a bearer token.
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, apiKeyPrefix)
}

// HashAPIKey produces the deterministic salted digest stored and
// indexed for key lookup.
func HashAPIKey(salt, key string) string {
	sum := sha256.Sum256([]byte(salt + key))
	return hex.EncodeToString(sum[:])
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
