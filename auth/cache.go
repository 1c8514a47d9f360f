package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-contest/types"
)

type cacheEntry struct {
	identity types.Identity
	expires  time.Time
}

// CachedVerifier remembers verified credentials for ttl, but never past the expiry of the token itself, so reconnecting clients do not hit the identity
// provider again. Guest credentials are never cached, every guest login is a new identity.
type CachedVerifier struct {
	next  Verifier
	cache *lru.ARCCache
	ttl   time.Duration
	now   func() time.Time
}

func NewCachedVerifier(next Verifier, size int, ttl time.Duration) (*CachedVerifier, error) {
	if size < 1 {
		size = 1
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &CachedVerifier{next: next, cache: cache, ttl: ttl, now: time.Now}, nil
}

func cacheKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (c *CachedVerifier) Verify(ctx context.Context, credential string) (types.Identity, error) {
	if IsGuestCredential(credential) || c.ttl <= 0 {
		return c.next.Verify(ctx, credential)
	}
	key := cacheKey(credential)
	if v, ok := c.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if c.now().Before(entry.expires) {
			return entry.identity, nil
		}
		c.cache.Remove(key)
	}
	identity, err := c.next.Verify(ctx, credential)
	if err != nil {
		return identity, err
	}
	expires := c.now().Add(c.ttl)
	if exp, ok := tokenExpiry(credential); ok && exp.Before(expires) {
		expires = exp
	}
	c.cache.Add(key, cacheEntry{identity: identity, expires: expires})
	return identity, nil
}

// tokenExpiry reads the exp claim of a JWT (plain or OIDC ID token). The signature is not checked, the
// token has just been verified by the next verifier.
func tokenExpiry(credential string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
