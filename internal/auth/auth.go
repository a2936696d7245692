// Package auth implements login and token validation (component F):
// identifier-or-email + password verification, token issuance against a
// short/long TTL, and cached token validation against the KV cache (B)
// and the entity layer (E), per spec.md 4.6.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oj-federate/rmjac/internal/authcrypto"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid identifier or password")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenNotFound      = errors.New("auth: token not found")
)

// Service issues and validates tokens.
type Service struct {
	st        store.Store
	cache     *kv.Cache
	hasher    authcrypto.Hasher
	shortTTL  time.Duration
	longTTL   time.Duration
}

// New builds an auth Service. shortTTL/longTTL bound the two token types'
// expirations (spec.md 4.6: "short: bounded hours; long: bounded days").
func New(st store.Store, cache *kv.Cache, hasher authcrypto.Hasher, shortTTL, longTTL time.Duration) *Service {
	return &Service{st: st, cache: cache, hasher: hasher, shortTTL: shortTTL, longTTL: longTTL}
}

// tokenCacheKey namespaces positive token-validation cache entries.
func tokenCacheKey(value string) string { return "auth_token_" + value }

// tokenValidTTL is how long a positive validation result stays cached;
// short enough that a revoked/expired token is rejected promptly.
const tokenValidTTL = 2 * time.Minute

// Login resolves iden-or-email to a user, verifies the password, and
// issues a new token. Only password hashes are ever compared or stored.
func (s *Service) Login(ctx context.Context, idenOrEmail, password string, long bool, deviceID string) (*entity.Token, error) {
	user, err := s.findUser(ctx, idenOrEmail)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(user.PasswordHash(), password) {
		return nil, ErrInvalidCredentials
	}

	value, err := randomTokenValue()
	if err != nil {
		return nil, err
	}

	typ, ttl := entity.TokenShort, s.shortTTL
	if long {
		typ, ttl = entity.TokenLong, s.longTTL
	}

	tok, err := entity.CreateToken(ctx, s.st, user.ID, value, typ, ttl, deviceID)
	if err != nil {
		return nil, err
	}

	_ = user.TouchLastLogin(ctx)
	return tok, nil
}

func (s *Service) findUser(ctx context.Context, idenOrEmail string) (*entity.User, error) {
	nodes, err := s.st.ListNodesByType(ctx, graph.NodeUser)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.PayloadString("iden") == idenOrEmail || n.PayloadString("email") == idenOrEmail {
			return entity.GetUser(ctx, s.st, n.ID)
		}
	}
	return nil, ErrInvalidCredentials
}

// Validate resolves a token value to its owning user ID, checking expiry.
// Positive results are cached for tokenValidTTL; misses always re-query
// the store (spec.md 4.6).
func (s *Service) Validate(ctx context.Context, value string) (string, error) {
	cacheKey := tokenCacheKey(value)
	if cached, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	tok, err := entity.FindTokenByValue(ctx, s.st, value)
	if err != nil {
		if err == store.ErrNotFound {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	if tok.Expired() {
		return "", ErrTokenExpired
	}

	ownerID, err := tok.OwnerID(ctx)
	if err != nil {
		return "", err
	}

	_ = s.cache.Set(ctx, cacheKey, ownerID, tokenValidTTL)
	return ownerID, nil
}

func randomTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
