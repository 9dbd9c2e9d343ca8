// Package v1 defines the Chirp Realtime Protocol v1 contract.
//
// It is shared between the server gateway and clients and carries no
// dependencies beyond the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol both sides must negotiate.
const Subprotocol = "chirp.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeNotice carries an account notice (server -> client).
	TypeNotice = "notice"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Notice kinds.
const (
	// NoticeSessionRevoked is sent right before the server closes a
	// subscription because every session of the user was revoked.
	NoticeSessionRevoked = "session_revoked"
)

// CloseReasonSessionRevoked is the websocket close reason used when a
// revocation tears down a subscription.
const CloseReasonSessionRevoked = "session_revoked"

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeNotice, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload identifies the connection to the client.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// NoticePayload is an account notice.
type NoticePayload struct {
	Kind   string    `json:"kind"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
