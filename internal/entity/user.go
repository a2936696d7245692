package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// User wraps a NodeUser (spec.md 3): identifier, display name, email,
// password hash, creation/last-login timestamps, profile metadata.
type User struct {
	st store.Store
	graph.Node
}

func wrapUser(st store.Store, n graph.Node) *User { return &User{st: st, Node: n} }

func (u *User) Iden() string         { return u.PayloadString("iden") }
func (u *User) DisplayName() string  { return u.PayloadString("name") }
func (u *User) Email() string        { return u.PayloadString("email") }
func (u *User) PasswordHash() string { return u.PayloadString("password_hash") }

// CreateUser persists a new User node. The caller is responsible for
// registering u.Iden() with the identifier trie (entity only owns the
// store-backed node, not D).
func CreateUser(ctx context.Context, st store.Store, iden, name, email, passwordHash string) (*User, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeUser,
		Payload: map[string]any{
			"iden":          iden,
			"name":          name,
			"email":         email,
			"password_hash": passwordHash,
			"created_at":    time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	return wrapUser(st, n), nil
}

func GetUser(ctx context.Context, st store.Store, id string) (*User, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return wrapUser(st, n), nil
}

// TouchLastLogin records the current time as the user's last-login stamp.
func (u *User) TouchLastLogin(ctx context.Context) error {
	payload := clonePayload(u.Payload)
	payload["last_login_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := u.st.UpdateNode(ctx, u.ID, payload); err != nil {
		return err
	}
	u.Payload = payload
	return nil
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
