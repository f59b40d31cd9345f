package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// verifiedTokenPrefix namespaces cached verification results in Redis.
	verifiedTokenPrefix = "auth_token:"
	// TokenExpiryBuffer is the window before actual token expiry in which
	// a cached verification is no longer trusted (in seconds).
	TokenExpiryBuffer = 60
)

// VerifiedToken is a cached verification result for a bearer token.
type VerifiedToken struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid checks whether the cached result can still be used.
func (vt *VerifiedToken) IsValid() bool {
	if vt == nil || vt.Subject == "" {
		return false
	}
	// Consider the entry stale once it is within the buffer period of expiry
	return time.Now().Add(TokenExpiryBuffer * time.Second).Before(vt.ExpiresAt)
}

// VerifiedTokenCache stores verification results in Redis, keyed by a
// hash of the raw token, so hot clients do not pay for OIDC signature
// verification on every request.
type VerifiedTokenCache struct {
	Client *redis.Client
}

// NewVerifiedTokenCache creates a Redis-backed verification cache.
func NewVerifiedTokenCache(client *redis.Client) *VerifiedTokenCache {
	return &VerifiedTokenCache{
		Client: client,
	}
}

func tokenKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return verifiedTokenPrefix + hex.EncodeToString(sum[:])
}

// Lookup returns the cached verification result for a token, or nil when
// the token has not been verified recently.
func (c *VerifiedTokenCache) Lookup(ctx context.Context, rawToken string) (*VerifiedToken, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	payload, err := c.Client.Get(ctx, tokenKey(rawToken)).Result()
	if err == redis.Nil {
		// Key does not exist
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var cached VerifiedToken
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}

	if !cached.IsValid() {
		// Entry exists but the token is about to expire
		return nil, nil
	}

	return &cached, nil
}

// Store caches a verification result until the token itself expires.
// Tokens that are already expired are not cached.
func (c *VerifiedTokenCache) Store(ctx context.Context, rawToken, subject string, expiresAt time.Time) error {
	if c.Client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	cached := &VerifiedToken{
		Subject:   subject,
		ExpiresAt: expiresAt,
	}

	payload, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal verified token: %w", err)
	}

	if err := c.Client.Set(ctx, tokenKey(rawToken), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}

	return nil
}
