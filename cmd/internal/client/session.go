package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chirp/cmd/internal/enforcer"
)

// ErrReauthRequired is returned by Resume when the stored session was
// revoked while the client was away.
var ErrReauthRequired = errors.New("client: re-authentication required")

// Navigator receives the re-authentication location after a forced
// sign-out.
type Navigator interface {
	Navigate(location string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(location string)

func (f NavigatorFunc) Navigate(location string) { f(location) }

// Config configures a Session.
type Config struct {
	BaseURL string
	// WSURL is the realtime endpoint. Empty disables the subscription.
	WSURL  string
	Origin string

	Platform string
	Interval time.Duration

	LoginPath  string
	ReturnPath string

	HTTPClient *http.Client
	Navigator  Navigator
	Logger     *slog.Logger
}

// Session is one signed-in client. Login starts the enforcer, Logout stops
// it, and a revocation detected by either the enforcer or the realtime
// gateway signs the client out through a single teardown.
type Session struct {
	cfg   Config
	api   *API
	creds *Credentials
	enf   *enforcer.Enforcer
	log   *slog.Logger

	// mu makes closing the subscription and clearing the credential one
	// step, so nothing observes one without the other.
	mu   sync.Mutex
	sub  *Subscription
	user User
}

// New builds a Session. It does not touch the network.
func New(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = enforcer.DefaultLoginPath
	}
	api, err := NewAPI(cfg.BaseURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		api:   api,
		creds: NewCredentials(api, cfg.Platform),
		log:   cfg.Logger,
	}
	s.enf = enforcer.New(s.creds, s.creds, terminator{s}, enforcer.Config{
		Interval: cfg.Interval,
		Logger:   cfg.Logger,
	})
	return s, nil
}

// API returns the underlying API client.
func (s *Session) API() *API { return s.api }

// Credentials returns the credential holder.
func (s *Session) Credentials() *Credentials { return s.creds }

// State is the enforcer state.
func (s *Session) State() enforcer.State { return s.enf.State() }

// Reason is the forced sign-out reason, if any.
func (s *Session) Reason() string { return s.enf.Reason() }

// Done is closed when the enforcer loop of the current session exits.
func (s *Session) Done() <-chan struct{} { return s.enf.Done() }

// User returns the signed-in account.
func (s *Session) User() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) ensureVerifier(ctx context.Context) error {
	if s.creds.hasVerifier() {
		return nil
	}
	pk, err := s.api.PublicKey(ctx)
	if err != nil {
		return err
	}
	return s.creds.SetVerifier(pk)
}

// Login signs in and starts enforcement. ctx bounds the lifetime of the
// enforcer loop and the subscription.
func (s *Session) Login(ctx context.Context, in LoginInput) (User, error) {
	if err := s.ensureVerifier(ctx); err != nil {
		return User{}, err
	}
	if in.Platform == "" {
		in.Platform = s.cfg.Platform
	}

	res, err := s.api.Login(ctx, in)
	if err != nil {
		return User{}, err
	}

	s.creds.Set(res.User.ID, res.Session)
	s.begin(ctx, res.User)
	s.log.Info("client.login.ok", "user_id", res.User.ID, "session_id", res.Session.SessionID)
	return res.User, nil
}

// Resume restores a stored session. The session is checked with the
// server before enforcement starts; if it was revoked in the meantime the
// client is signed out and ErrReauthRequired is returned. A failed check
// is not fatal and the enforcer retries on its own schedule.
func (s *Session) Resume(ctx context.Context, user User, t Tokens) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("client: resume without user id")
	}
	if err := s.ensureVerifier(ctx); err != nil {
		return err
	}
	s.creds.Set(user.ID, t)

	tok, err := s.creds.AccessToken(ctx)
	if errors.Is(err, enforcer.ErrCredentialRejected) {
		s.signOut(enforcer.ReasonInvalidToken)
		return ErrReauthRequired
	}
	if err != nil {
		tok = t.AccessToken
	}

	res, err := s.api.CheckSession(ctx, user.ID, tok)
	switch {
	case err != nil:
		s.log.Warn("client.resume.check.fail", "err", err)
	case res.RequiresReauth:
		reason := res.Reason
		if reason == "" {
			reason = enforcer.ReasonSessionRevoked
		}
		s.signOut(reason)
		return ErrReauthRequired
	}

	s.begin(ctx, user)
	return nil
}

// begin starts enforcement for the credential already held.
func (s *Session) begin(ctx context.Context, user User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	s.enf.Start(ctx)
	s.subscribe(ctx)
}

// subscribe opens the realtime subscription. Failure is logged; the enforcer
// still bounds detection to one interval.
func (s *Session) subscribe(ctx context.Context) {
	if s.cfg.WSURL == "" {
		return
	}
	tok, err := s.creds.AccessToken(ctx)
	if err != nil {
		s.log.Warn("client.ws.token.fail", "err", err)
		return
	}
	sub, err := Subscribe(ctx, s.cfg.WSURL, tok, SubscribeOptions{
		Origin: s.cfg.Origin,
		Logger: s.log,
		OnRevoked: func(reason string) {
			s.log.Info("client.ws.revoked", "reason", reason)
			s.enf.CheckNow(context.WithoutCancel(ctx))
		},
	})
	if err != nil {
		s.log.Warn("client.ws.subscribe.fail", "err", err)
		return
	}

	s.mu.Lock()
	if _, ok := s.creds.Tokens(); !ok {
		// Signed out while dialing.
		s.mu.Unlock()
		sub.Close()
		return
	}
	if s.sub != nil {
		s.sub.Close()
	}
	s.sub = sub
	s.mu.Unlock()
}

// Subscription returns the open realtime subscription, if any.
func (s *Session) Subscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// CheckNow runs one enforcement check immediately.
func (s *Session) CheckNow(ctx context.Context) enforcer.State {
	return s.enf.CheckNow(ctx)
}

// SignOutEverywhere revokes every session of the signed-in user, this one
// included, and runs a check so the local sign-out does not wait for the
// next tick.
func (s *Session) SignOutEverywhere(ctx context.Context) (RevokeResult, error) {
	tok, err := s.creds.AccessToken(ctx)
	if err != nil {
		return RevokeResult{}, err
	}
	res, err := s.api.RevokeAll(ctx, tok)
	if err != nil {
		return RevokeResult{}, err
	}
	s.enf.CheckNow(ctx)
	return res, nil
}

// Logout ends this session only. No navigation happens.
func (s *Session) Logout(ctx context.Context) error {
	s.enf.Stop()

	t, ok := s.creds.Tokens()
	s.teardown()
	if !ok {
		return nil
	}
	if err := s.api.Logout(ctx, t.AccessToken); err != nil && !errors.Is(err, enforcer.ErrCredentialRejected) {
		return err
	}
	return nil
}

// teardown closes the subscription and clears the credential together.
func (s *Session) teardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	s.user = User{}
	return s.creds.Clear()
}

func (s *Session) signOut(reason string) {
	s.teardown()
	loc := enforcer.ReauthURL(s.cfg.LoginPath, reason, s.cfg.ReturnPath)
	s.log.Info("client.signed_out", "reason", reason, "location", loc)
	if s.cfg.Navigator != nil {
		s.cfg.Navigator.Navigate(loc)
	}
}

type terminator struct{ s *Session }

func (t terminator) Terminate(ctx context.Context, reason string) {
	t.s.signOut(reason)
}
