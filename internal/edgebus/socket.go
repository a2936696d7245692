package edgebus

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// wsSocket adapts a *websocket.Conn to the Socket interface: one
// goroutine reads and dispatches, writes go through a mutex since
// gorilla/websocket forbids concurrent writers on one connection.
type wsSocket struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWsSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{id: ulid.Make().String(), conn: conn}
}

func (s *wsSocket) ID() string { return s.id }

func (s *wsSocket) Send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *wsSocket) Close() error { return s.conn.Close() }

// Accept performs the handshake spec.md 4.4/6 requires (the worker signs
// its own socket ID under a pinned public key), registers the connection
// on success, and then pumps incoming frames into bus until the
// connection closes or ctx is cancelled. pinnedKey is the RSA public key
// workers are expected to hold the private half of.
func Accept(ctx context.Context, bus *Bus, conn *websocket.Conn, pinnedKey *rsa.PublicKey) error {
	sock := newWsSocket(conn)

	var authMsg Message
	if err := conn.ReadJSON(&authMsg); err != nil {
		return fmt.Errorf("edgebus: read auth frame: %w", err)
	}
	if authMsg.Type != MsgAuth {
		conn.Close()
		return fmt.Errorf("edgebus: expected auth frame, got %q", authMsg.Type)
	}
	if err := verifyNonceSignature(sock.id, authMsg.SignedNonce, pinnedKey); err != nil {
		conn.Close()
		return fmt.Errorf("edgebus: auth failed: %w", err)
	}

	bus.AddSocket(sock)
	defer bus.RemoveSocket(sock.id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case MsgRegisterService:
			if msg.Service != nil {
				bus.Register(sock.id, *msg.Service)
			}
		case MsgUnregisterService:
			bus.Unregister(sock.id, msg.Name)
		case MsgReply:
			bus.HandleReply(msg)
		case MsgHeartbeat:
			_ = sock.Send(Message{Type: MsgHeartbeat})
		}
	}
}

// verifyNonceSignature checks that signedNonce is a valid RSA-PSS
// signature (over SHA-256 of the socket ID) under pinnedKey, the
// handshake spec.md section 6 describes: "the worker produces an RSA (or
// equivalent) signature of its own socket identifier under a pinned
// public key; failure disconnects."
func verifyNonceSignature(socketID, signedNonce string, pinnedKey *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(socketID))
	return rsa.VerifyPSS(pinnedKey, sha256.New(), digest[:], sig, nil)
}

// ParsePinnedKey loads an RSA public key from its PEM/DER bytes, used to
// read the edge public-key file path named in spec.md section 6's config.
func ParsePinnedKey(der []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(der); block != nil {
		der = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse pinned key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("pinned key is not RSA")
	}
	return rsaPub, nil
}

