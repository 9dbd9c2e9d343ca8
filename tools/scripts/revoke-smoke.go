// Package main is a CI-friendly end-to-end smoke test for Chirp session
// revocation against a running server.
//
// It validates:
//   - login from two devices of the same user
//   - websocket handshake, subprotocol selection and hello/hello_ack
//   - session check reports a fresh session as valid
//   - logout_all pushes session_revoked to every live subscription
//   - session check then requires re-authentication for the other device
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "chirp/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"
)

const maxReadBytes = 1 << 20 // 1MiB

type device struct {
	name        string
	userID      string
	accessToken string

	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

type smoke struct {
	base    *url.URL
	wsURL   string
	origin  string
	timeout time.Duration
	verbose bool
	http    *http.Client
}

func main() {
	var (
		baseURL  = pflag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = pflag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		username = pflag.String("username", "", "Existing user to sign in as")
		password = pflag.String("password", "", "Password of -username (or CHIRP_SMOKE_PASSWORD)")
		timeout  = pflag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = pflag.BoolP("verbose", "v", false, "Verbose output")
	)
	pflag.Parse()

	if *password == "" {
		*password = os.Getenv("CHIRP_SMOKE_PASSWORD")
	}
	if strings.TrimSpace(*username) == "" || *password == "" {
		fatalf("-username and -password are required")
	}

	base, err := url.Parse(*baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -url: %q", *baseURL)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	ws := *base
	ws.Scheme = "ws"
	if base.Scheme == "https" {
		ws.Scheme = "wss"
	}

	s := &smoke{
		base:    base,
		wsURL:   ws.JoinPath("ws").String(),
		origin:  *origin,
		timeout: *timeout,
		verbose: *verbose,
		http:    &http.Client{Timeout: *timeout},
	}

	root := context.Background()

	a := s.mustLogin(root, "A", *username, *password)
	b := s.mustLogin(root, "B", *username, *password)

	s.mustConnect(root, a)
	defer closeWS(a.conn)
	s.mustConnect(root, b)
	defer closeWS(b.conn)

	if reauth := s.mustCheck(root, b); reauth {
		fatalf("fresh session reported as revoked (B)")
	}

	var revoked struct {
		Success        bool  `json:"success"`
		RevocationTime int64 `json:"revocationTime"`
	}
	s.mustPost(root, "/auth/logout_all", a.accessToken, struct{}{}, http.StatusOK, &revoked)
	if !revoked.Success || revoked.RevocationTime == 0 {
		fatalf("logout_all did not report a revocation: %+v", revoked)
	}

	s.mustReceiveRevocation(root, a)
	s.mustReceiveRevocation(root, b)

	if reauth := s.mustCheck(root, b); !reauth {
		fatalf("revoked session still reported as valid (B)")
	}

	fmt.Printf("OK: user_id=%s revocation_time=%d\n", a.userID, revoked.RevocationTime)
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func (s *smoke) mustLogin(parent context.Context, name, username, password string) *device {
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	s.mustPost(parent, "/auth/login", "", map[string]any{
		"username": username,
		"password": password,
		"platform": "web",
	}, http.StatusOK, &out)

	if out.User.ID == "" || out.Session.AccessToken == "" {
		fatalf("login %s: empty user or token", name)
	}
	if s.verbose {
		fmt.Printf("login %s: user_id=%s\n", name, out.User.ID)
	}
	return &device{name: name, userID: out.User.ID, accessToken: out.Session.AccessToken}
}

// mustCheck reports whether the server requires d to re-authenticate.
func (s *smoke) mustCheck(parent context.Context, d *device) bool {
	var out struct {
		RequiresReauth bool   `json:"requiresReauth"`
		Reason         string `json:"reason"`
	}
	s.mustPost(parent, "/auth/session/check", d.accessToken, map[string]string{"userId": d.userID}, http.StatusOK, &out)
	if s.verbose {
		fmt.Printf("check %s: requires_reauth=%t reason=%q\n", d.name, out.RequiresReauth, out.Reason)
	}
	return out.RequiresReauth
}

func (s *smoke) mustPost(parent context.Context, path, bearer string, body any, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base.JoinPath(path).String(), bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d want=%d body=%s", path, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("decode %s: %v", path, err)
		}
	}
}

func (s *smoke) mustConnect(parent context.Context, d *device) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+d.accessToken)
	if strings.TrimSpace(s.origin) != "" {
		h.Set("Origin", s.origin)
	}

	conn, resp, err := websocket.Dial(ctx, s.wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", d.name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", d.name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	d.conn = conn
	d.inbox = make(chan v1.Envelope, 16)
	d.errCh = make(chan error, 1)
	d.startReadLoop()

	mustWrite(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      d.name + "-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}, s.timeout)

	ack, err := d.readEnvelope(parent, s.timeout)
	if err != nil {
		fatalf("waiting for hello_ack (%s): %v", d.name, err)
	}
	if ack.Type != v1.TypeHelloAck {
		fatalf("unexpected envelope (%s): got=%q want=%q", d.name, ack.Type, v1.TypeHelloAck)
	}

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", d.name, err)
	}
	if p.UserID != d.userID {
		fatalf("hello_ack user mismatch (%s): got=%q want=%q", d.name, p.UserID, d.userID)
	}
	if s.verbose {
		fmt.Printf("connected %s: conn_id=%s\n", d.name, p.SessionID)
	}
}

// mustReceiveRevocation accepts either the notice or the close frame that
// follows it; a server may close before the notice is flushed.
func (s *smoke) mustReceiveRevocation(parent context.Context, d *device) {
	env, err := d.readEnvelope(parent, s.timeout)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Reason == v1.CloseReasonSessionRevoked {
				return
			}
		}
		fatalf("waiting for revocation (%s): %v", d.name, err)
	}
	if env.Type != v1.TypeNotice {
		fatalf("unexpected envelope (%s): got=%q want=%q", d.name, env.Type, v1.TypeNotice)
	}

	var p v1.NoticePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal notice payload (%s): %v", d.name, err)
	}
	if p.Kind != v1.NoticeSessionRevoked {
		fatalf("notice kind mismatch (%s): got=%q want=%q", d.name, p.Kind, v1.NoticeSessionRevoked)
	}
	if s.verbose {
		fmt.Printf("revoked %s: reason=%q at=%s\n", d.name, p.Reason, p.At.Format(time.RFC3339))
	}
}

func (d *device) startReadLoop() {
	go func() {
		defer close(d.inbox)

		for {
			_, data, err := d.conn.Read(context.Background())
			if err != nil {
				d.errCh <- err
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				d.errCh <- fmt.Errorf("bad json: %w", err)
				return
			}
			if err := env.Validate(); err != nil {
				d.errCh <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			d.inbox <- env
		}
	}()
}

func (d *device) readEnvelope(parent context.Context, timeout time.Duration) (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return v1.Envelope{}, ctx.Err()
	case env, ok := <-d.inbox:
		if !ok {
			return v1.Envelope{}, <-d.errCh
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			return v1.Envelope{}, fmt.Errorf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
		return env, nil
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
