package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/api"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/realtime"
	"chirp/cmd/internal/revocation"
	"chirp/cmd/internal/securitylog"
	"chirp/cmd/security/token"

	paseto "aidanwoods.dev/go-paseto"
)

const testPassword = "Very-Strong-Password-1!"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testServer is the whole server side in memory: auth API, revocation
// issuer and realtime gateway on one httptest server.
type testServer struct {
	t       *testing.T
	ts      *httptest.Server
	users   *identity.MemoryStore
	records *revocation.MemoryRecordStore
	hub     *realtime.Hub
	clock   *testClock
	base    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Behind the wall clock, so tokens issued at small positive offsets are
	// already valid for verifiers that use the real time.
	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	clock := &testClock{now: base}

	sessCfg := session.DefaultConfig()
	sessCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	sessions := session.NewService(sessCfg, session.NewMemoryStore(), tokens, token.Hasher{})

	hasher := identity.DefaultPasswordHasher()
	hasher.Params.MemoryKiB = 8 * 1024
	hasher.Params.Iterations = 1
	hasher.Params.Parallelism = 1
	users := identity.NewMemoryStore(hasher)

	records := revocation.NewMemoryRecordStore()
	audit := securitylog.NewRecorder(securitylog.NewMemoryLog(), log)

	wsCfg := realtime.DefaultGatewayConfig()
	wsCfg.OriginRequired = false
	hub := realtime.NewHub(log, nil)
	gw := realtime.NewWSGateway(log, hub, sessions, wsCfg)

	issuer := revocation.NewIssuer(sessions, records,
		revocation.WithSecurityLog(audit),
		revocation.WithSubscriptions(hub),
		revocation.WithLogger(log),
		revocation.WithClock(clock.Now),
	)
	checker := revocation.NewChecker(records, api.NewAuthTimeSource(sessions), nil, log)

	h, err := api.NewHandler(log, api.DefaultConfig(), api.Deps{
		Users:    users,
		Hasher:   hasher,
		Sessions: sessions,
		Issuer:   issuer,
		Checker:  checker,
		Records:  records,
		Audit:    audit,
	}, api.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testServer{t: t, ts: ts, users: users, records: records, hub: hub, clock: clock, base: base}
}

func (s *testServer) at(offset time.Duration) { s.clock.Set(s.base.Add(offset)) }

func (s *testServer) createUser(username string, role identity.Role) identity.User {
	s.t.Helper()
	u, err := s.users.CreateUser(context.Background(), identity.CreateUserInput{
		Username: &username,
		Password: testPassword,
		Role:     role,
		Now:      s.clock.Now(),
	})
	if err != nil {
		s.t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (s *testServer) wsURL() string {
	u, err := WSURL(s.ts.URL)
	if err != nil {
		s.t.Fatalf("WSURL: %v", err)
	}
	return u
}

// navRecorder captures forced sign-outs.
type navRecorder struct {
	ch chan string
}

func newNavRecorder() *navRecorder { return &navRecorder{ch: make(chan string, 4)} }

func (n *navRecorder) Navigate(location string) { n.ch <- location }

func (n *navRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case loc := <-n.ch:
		return loc
	case <-time.After(5 * time.Second):
		t.Fatal("no navigation within 5s")
		return ""
	}
}

func (n *navRecorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case loc := <-n.ch:
		t.Fatalf("unexpected navigation to %s", loc)
	case <-time.After(d):
	}
}

func newTestSession(t *testing.T, srv *testServer, nav Navigator, withWS bool, interval time.Duration) *Session {
	t.Helper()
	cfg := Config{
		BaseURL:    srv.ts.URL,
		Platform:   "web",
		Interval:   interval,
		ReturnPath: "/feed",
		Navigator:  nav,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if withWS {
		cfg.WSURL = srv.wsURL()
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Logout(context.Background()) })
	return s
}
