package auth

import (
	"context"
	"testing"
	"time"

	"github.com/oj-federate/rmjac/internal/authcrypto"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Memory) {
	t.Helper()
	st := memory.New()
	cache := kv.New(st, time.Minute, time.Minute)
	hasher := authcrypto.NewBcryptHasher(4) // low cost: tests only
	return New(st, cache, hasher, time.Hour, 24*time.Hour), st
}

func TestLoginAndValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	hash, err := authcrypto.NewBcryptHasher(4).Hash("p1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	user, err := entity.CreateUser(ctx, st, "alice", "Alice", "alice@example.com", hash)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tok, err := svc.Login(ctx, "alice", "p1", false, "device-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ownerID, err := svc.Validate(ctx, tok.Value())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ownerID != user.ID {
		t.Fatalf("Validate owner = %q, want %q", ownerID, user.ID)
	}

	// Cached path should agree too.
	ownerID2, err := svc.Validate(ctx, tok.Value())
	if err != nil || ownerID2 != user.ID {
		t.Fatalf("cached Validate = %q, %v", ownerID2, err)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	hash, _ := authcrypto.NewBcryptHasher(4).Hash("p1")
	if _, err := entity.CreateUser(ctx, st, "bob", "Bob", "bob@example.com", hash); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := svc.Login(ctx, "bob", "wrong", false, ""); err != ErrInvalidCredentials {
		t.Fatalf("Login with wrong password = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	hash, _ := authcrypto.NewBcryptHasher(4).Hash("p1")
	user, _ := entity.CreateUser(ctx, st, "carol", "Carol", "carol@example.com", hash)

	tok, err := entity.CreateToken(ctx, st, user.ID, "expired-value", entity.TokenShort, -time.Hour, "")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, err := svc.Validate(ctx, tok.Value()); err != ErrTokenExpired {
		t.Fatalf("Validate expired = %v, want ErrTokenExpired", err)
	}
}
