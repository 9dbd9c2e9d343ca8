package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/enforcer"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertReauthLocation(t *testing.T, loc, reason string) {
	t.Helper()
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parse %q: %v", loc, err)
	}
	if u.Path != enforcer.DefaultLoginPath {
		t.Fatalf("path = %q", u.Path)
	}
	if got := u.Query().Get("reason"); got != reason {
		t.Fatalf("reason = %q, want %q", got, reason)
	}
	if got := u.Query().Get("redirect"); got != "/feed" {
		t.Fatalf("redirect = %q", got)
	}
}

func TestSession_LoginStartsEnforcement(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.createUser("alice", identity.RoleUser)
	nav := newNavRecorder()
	s := newTestSession(t, srv, nav, true, time.Hour)

	ctx := context.Background()
	u, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != alice.ID || s.User().ID != alice.ID {
		t.Fatalf("user = %+v", u)
	}
	if s.State() != enforcer.StateActive && s.State() != enforcer.StateChecking {
		t.Fatalf("state = %s", s.State())
	}
	if sub := s.Subscription(); sub == nil || sub.ConnID() == "" {
		t.Fatal("expected an open subscription")
	}
	waitFor(t, "hub registration", func() bool { return srv.hub.Count(alice.ID) == 1 })

	if st := s.CheckNow(ctx); st != enforcer.StateActive {
		t.Fatalf("CheckNow on a never-revoked user = %s", st)
	}
	nav.none(t, 50*time.Millisecond)
}

func TestSession_RevocationNoticeSignsOut(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.createUser("alice", identity.RoleUser)
	srv.createUser("root", identity.RoleAdmin)

	nav := newNavRecorder()
	// The interval is long enough that only the realtime notice can trigger
	// the sign-out within the test.
	s := newTestSession(t, srv, nav, true, time.Hour)
	ctx := context.Background()
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "hub registration", func() bool { return srv.hub.Count(alice.ID) == 1 })

	admin := newTestSession(t, srv, nil, false, time.Hour)
	if _, err := admin.Login(ctx, LoginInput{Username: "root", Password: testPassword}); err != nil {
		t.Fatalf("admin Login: %v", err)
	}
	tok, err := admin.Credentials().AccessToken(ctx)
	if err != nil {
		t.Fatalf("admin token: %v", err)
	}

	srv.at(50 * time.Second)
	res, err := admin.API().RevokeUser(ctx, tok, alice.ID)
	if err != nil || !res.Success {
		t.Fatalf("RevokeUser: %+v %v", res, err)
	}

	assertReauthLocation(t, nav.wait(t), enforcer.ReasonSessionRevoked)
	if s.State() != enforcer.StateInvalidated || s.Reason() != enforcer.ReasonSessionRevoked {
		t.Fatalf("state=%s reason=%q", s.State(), s.Reason())
	}
	if _, ok := s.Credentials().Tokens(); ok {
		t.Fatal("credential survived sign-out")
	}
	if s.Subscription() != nil {
		t.Fatal("subscription survived sign-out")
	}
	if admin.State() != enforcer.StateActive {
		t.Fatalf("admin affected: %s", admin.State())
	}
}

func TestSession_PollingDetectsRevocation(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)

	ctx := context.Background()
	nav := newNavRecorder()
	s := newTestSession(t, srv, nav, false, 25*time.Millisecond)
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Sign out everywhere from a second device.
	other := newTestSession(t, srv, nil, false, time.Hour)
	srv.at(20 * time.Second)
	if _, err := other.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	srv.at(40 * time.Second)
	tok, _ := other.Credentials().AccessToken(ctx)
	if _, err := other.API().RevokeAll(ctx, tok); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	assertReauthLocation(t, nav.wait(t), enforcer.ReasonSessionRevoked)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("enforcer loop did not exit")
	}
}

func TestSession_SignOutEverywhere(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)

	ctx := context.Background()
	nav := newNavRecorder()
	s := newTestSession(t, srv, nav, true, time.Hour)
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	srv.at(10 * time.Second)
	res, err := s.SignOutEverywhere(ctx)
	if err != nil {
		t.Fatalf("SignOutEverywhere: %v", err)
	}
	if res.RevocationTime != srv.base.Unix()+10 {
		t.Fatalf("revocationTime = %d", res.RevocationTime)
	}
	assertReauthLocation(t, nav.wait(t), enforcer.ReasonSessionRevoked)
	if s.State() != enforcer.StateInvalidated {
		t.Fatalf("state = %s", s.State())
	}
	// The notice arrives too; the sign-out still happens once.
	nav.none(t, 100*time.Millisecond)
}

func TestSession_ResumeChecksFirst(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)
	ctx := context.Background()

	first := newTestSession(t, srv, nil, false, time.Hour)
	u, err := first.Login(ctx, LoginInput{Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	stored, _ := first.Credentials().Tokens()
	first.enf.Stop()

	t.Run("valid", func(t *testing.T) {
		nav := newNavRecorder()
		s := newTestSession(t, srv, nav, false, time.Hour)
		if err := s.Resume(ctx, u, stored); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if st := s.State(); st != enforcer.StateActive && st != enforcer.StateChecking {
			t.Fatalf("state = %s", st)
		}
		// Drop the copy locally; logging out would end the shared session.
		s.enf.Stop()
		s.teardown()
		nav.none(t, 50*time.Millisecond)
	})

	srv.at(10 * time.Second)
	if _, err := first.API().RevokeAll(ctx, stored.AccessToken); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	t.Run("revoked", func(t *testing.T) {
		nav := newNavRecorder()
		s := newTestSession(t, srv, nav, false, time.Hour)
		if err := s.Resume(ctx, u, stored); !errors.Is(err, ErrReauthRequired) {
			t.Fatalf("Resume err = %v, want ErrReauthRequired", err)
		}
		assertReauthLocation(t, nav.wait(t), enforcer.ReasonSessionRevoked)
		if s.State() != enforcer.StateIdle {
			t.Fatalf("enforcer started for a revoked session: %s", s.State())
		}
	})
}

func TestSession_LogoutDoesNotNavigate(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)
	ctx := context.Background()

	nav := newNavRecorder()
	s := newTestSession(t, srv, nav, true, time.Hour)
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	held, _ := s.Credentials().Tokens()

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.State() != enforcer.StateIdle {
		t.Fatalf("state = %s", s.State())
	}
	if _, ok := s.Credentials().Tokens(); ok {
		t.Fatal("credential kept after logout")
	}
	if _, err := s.API().Refresh(ctx, held.RefreshToken, "web"); !errors.Is(err, enforcer.ErrCredentialRejected) {
		t.Fatalf("refresh after logout: %v", err)
	}
	nav.none(t, 50*time.Millisecond)
}

func TestSession_TransientFailureKeepsSession(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)
	ctx := context.Background()

	nav := newNavRecorder()
	s := newTestSession(t, srv, nav, false, time.Hour)
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "initial check", func() bool { return s.State() == enforcer.StateActive })

	srv.ts.Close()

	if st := s.CheckNow(ctx); st != enforcer.StateActive {
		t.Fatalf("state after unreachable server = %s", st)
	}
	if _, ok := s.Credentials().Tokens(); !ok {
		t.Fatal("credential dropped on a transient failure")
	}
	nav.none(t, 50*time.Millisecond)
}

func TestCredentials_RefreshIsShared(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser("alice", identity.RoleUser)
	ctx := context.Background()

	s := newTestSession(t, srv, nil, false, time.Hour)
	if _, err := s.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	s.enf.Stop()
	before, _ := s.Credentials().Tokens()

	// Past the access token's expiry on both clocks.
	later := before.AccessExpiresAt.Add(time.Minute)
	srv.clock.Set(later)
	s.Credentials().now = func() time.Time { return later }

	var wg sync.WaitGroup
	toks := make([]string, 5)
	errs := make([]error, 5)
	for i := range toks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = s.Credentials().AccessToken(ctx)
		}(i)
	}
	wg.Wait()

	for i := range toks {
		if errs[i] != nil {
			t.Fatalf("AccessToken[%d]: %v", i, errs[i])
		}
		if toks[i] == before.AccessToken {
			t.Fatalf("AccessToken[%d] was not refreshed", i)
		}
	}
	after, _ := s.Credentials().Tokens()
	if after.AuthTime != before.AuthTime {
		t.Fatalf("auth_time changed across refresh: %d -> %d", before.AuthTime, after.AuthTime)
	}
	at, err := s.Credentials().AuthTime(ctx)
	if err != nil {
		t.Fatalf("AuthTime: %v", err)
	}
	if at.Unix() != before.AuthTime {
		t.Fatalf("AuthTime = %d, want %d", at.Unix(), before.AuthTime)
	}
}

func TestCredentials_SignedOut(t *testing.T) {
	c := NewCredentials(nil, "web")
	if _, err := c.AccessToken(context.Background()); !errors.Is(err, enforcer.ErrCredentialRejected) {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := c.TokensValidAfter(context.Background()); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("err = %v", err)
	}
	if c.Clear() {
		t.Fatal("Clear on an empty holder reported a session")
	}
}
