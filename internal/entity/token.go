package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// TokenType discriminates a Token's lifetime class (spec.md 4.6).
type TokenType string

const (
	TokenShort TokenType = "short"
	TokenLong  TokenType = "long"
)

// MiscUserToken is the Misc edge type linking a Token node back to its
// owning User (spec.md 3's "owner set via a Misc-style edge").
const MiscUserToken = "user_token"

// Token wraps a NodeToken: value, type, expiration, device identifier,
// owning user via a Misc edge.
type Token struct {
	st store.Store
	graph.Node
}

func (t *Token) Value() string       { return t.PayloadString("value") }
func (t *Token) Type() TokenType     { return TokenType(t.PayloadString("type")) }
func (t *Token) DeviceID() string    { return t.PayloadString("device_id") }
func (t *Token) ExpiresAt() time.Time {
	raw := t.PayloadString("expires_at")
	ts, _ := time.Parse(time.RFC3339, raw)
	return ts
}

func (t *Token) Expired() bool {
	exp := t.ExpiresAt()
	return !exp.IsZero() && time.Now().After(exp)
}

// CreateToken persists a Token node and its owning Misc edge to userID.
func CreateToken(ctx context.Context, st store.Store, userID, value string, typ TokenType, ttl time.Duration, deviceID string) (*Token, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeToken,
		Payload: map[string]any{
			"value":      value,
			"type":       string(typ),
			"device_id":  deviceID,
			"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeMisc, U: userID, V: n.ID,
		Payload: map[string]any{"misc_type": MiscUserToken},
	}); err != nil {
		return nil, err
	}

	return &Token{st: st, Node: n}, nil
}

// OwnerID resolves the User node ID that owns a token, via its Misc edge.
func (t *Token) OwnerID(ctx context.Context) (string, error) {
	edges, err := t.st.ListEdgesTo(ctx, graph.EdgeMisc, t.ID)
	if err != nil {
		return "", err
	}
	for _, e := range edges {
		if e.PayloadString("misc_type") == MiscUserToken {
			return e.U, nil
		}
	}
	return "", store.ErrNotFound
}

func GetTokenByNodeID(ctx context.Context, st store.Store, id string) (*Token, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Token{st: st, Node: n}, nil
}

// FindTokenByValue scans Token nodes for a matching value. Callers should
// go through internal/auth's cache rather than calling this on every
// request.
func FindTokenByValue(ctx context.Context, st store.Store, value string) (*Token, error) {
	nodes, err := st.ListNodesByType(ctx, graph.NodeToken)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.PayloadString("value") == value {
			return &Token{st: st, Node: n}, nil
		}
	}
	return nil, store.ErrNotFound
}
