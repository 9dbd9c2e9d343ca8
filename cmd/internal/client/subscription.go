package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	v1 "chirp/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	maxReadBytes     = 64 << 10
	handshakeTimeout = 10 * time.Second
)

// SubscribeOptions configures a realtime subscription.
type SubscribeOptions struct {
	// Origin is sent on the handshake; the server may require it.
	Origin string
	// OnRevoked runs at most once, when the server announces that the
	// user's sessions were revoked or closes the socket for that reason.
	OnRevoked func(reason string)
	Logger    *slog.Logger
}

// Subscription is an open realtime connection.
type Subscription struct {
	conn   *websocket.Conn
	log    *slog.Logger
	connID string

	onRevoked func(string)
	revoked   sync.Once

	closeOnce sync.Once
	done      chan struct{}
}

// WSURL derives the realtime endpoint from an API base URL.
func WSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	return u.JoinPath("/ws").String(), nil
}

// Subscribe dials wsURL, completes the hello handshake and starts reading
// notices in the background.
func Subscribe(ctx context.Context, wsURL, accessToken string, opts SubscribeOptions) (*Subscription, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(opts.Origin) != "" {
		h.Set("Origin", opts.Origin)
	}

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: realtime handshake rejected", ErrSignedOut)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	if conn.Subprotocol() != v1.Subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return nil, fmt.Errorf("realtime dial: subprotocol not negotiated (got %q)", conn.Subprotocol())
	}
	conn.SetReadLimit(maxReadBytes)

	ack, err := hello(dialCtx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}

	s := &Subscription{
		conn:      conn,
		log:       opts.Logger,
		connID:    ack.SessionID,
		onRevoked: opts.OnRevoked,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func hello(ctx context.Context, conn *websocket.Conn) (v1.HelloAckPayload, error) {
	p, _ := json.Marshal(v1.HelloPayload{})
	b, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeHello, TS: time.Now().UTC(), Payload: p})
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return v1.HelloAckPayload{}, fmt.Errorf("realtime hello: %w", err)
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return v1.HelloAckPayload{}, fmt.Errorf("realtime hello: %w", err)
		}
		if env.Type != v1.TypeHelloAck {
			continue
		}
		var ack v1.HelloAckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return v1.HelloAckPayload{}, fmt.Errorf("realtime hello_ack: %w", err)
		}
		return ack, nil
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, errors.New("unexpected binary frame")
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

// ConnID is the server-assigned connection id.
func (s *Subscription) ConnID() string { return s.connID }

// Done is closed when the read loop exits.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close drops the connection without waiting for the peer.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.CloseNow()
	})
}

func (s *Subscription) readLoop() {
	defer close(s.done)
	defer s.Close()

	ctx := context.Background()
	for {
		env, err := readEnvelope(ctx, s.conn)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Reason == v1.CloseReasonSessionRevoked {
				s.fireRevoked(ce.Reason)
				return
			}
			if websocket.CloseStatus(err) == -1 {
				s.log.Debug("client.ws.read.end", "conn_id", s.connID, "err", err)
			} else {
				s.log.Info("client.ws.closed", "conn_id", s.connID, "status", websocket.CloseStatus(err))
			}
			return
		}

		if env.Type != v1.TypeNotice {
			continue
		}
		var n v1.NoticePayload
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			s.log.Warn("client.ws.notice.bad_payload", "conn_id", s.connID, "err", err)
			continue
		}
		if n.Kind == v1.NoticeSessionRevoked {
			s.fireRevoked(n.Reason)
		}
	}
}

func (s *Subscription) fireRevoked(reason string) {
	if s.onRevoked == nil {
		return
	}
	s.revoked.Do(func() { s.onRevoked(reason) })
}
