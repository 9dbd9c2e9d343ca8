// chirp-client signs in to a Chirp server and holds the session open until
// it is interrupted or revoked. A forced sign-out prints the
// re-authentication location and exits with status 3.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chirp/cmd/internal/app"
	"chirp/cmd/internal/client"
	"chirp/cmd/internal/enforcer"

	"github.com/spf13/pflag"
)

const exitSignedOut = 3

type options struct {
	baseURL     string
	username    string
	email       string
	passwordEnv string
	platform    string
	origin      string
	interval    time.Duration
	noRealtime  bool
	everywhere  bool
	logLevel    string
	logFormat   string
}

// errSignedOut reports a server-side revocation to main.
type errSignedOut struct{ location string }

func (e errSignedOut) Error() string { return "signed out by server; re-authenticate at " + e.location }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()

	var so errSignedOut
	switch {
	case err == nil:
	case errors.As(err, &so):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSignedOut)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("chirp-client", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.baseURL, "url", app.EnvString("CHIRP_SERVER_URL", "http://127.0.0.1:8080"), "server base URL")
	fs.StringVar(&o.username, "username", "", "login name")
	fs.StringVar(&o.email, "email", "", "login email")
	fs.StringVar(&o.passwordEnv, "password-env", "CHIRP_CLIENT_PASSWORD", "env var holding the password")
	fs.StringVar(&o.platform, "platform", "desktop", "device platform: web, ios, android or desktop")
	fs.StringVar(&o.origin, "origin", "", "Origin header for the realtime handshake")
	fs.DurationVar(&o.interval, "interval", app.EnvDuration("CHIRP_ENFORCER_INTERVAL", enforcer.DefaultInterval), "session check interval")
	fs.BoolVar(&o.noRealtime, "no-realtime", false, "rely on polling only")
	fs.BoolVar(&o.everywhere, "sign-out-everywhere", false, "revoke every session of the account right after login")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "pretty", "json, text or pretty")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(o.username) == "" && strings.TrimSpace(o.email) == "" {
		return options{}, errors.New("one of --username or --email is required")
	}
	if os.Getenv(o.passwordEnv) == "" {
		return options{}, fmt.Errorf("%s is empty", o.passwordEnv)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	log := app.NewLogger(o.logLevel, o.logFormat)

	var wsURL string
	if !o.noRealtime {
		if wsURL, err = client.WSURL(o.baseURL); err != nil {
			return err
		}
	}

	signedOut := make(chan string, 1)
	s, err := client.New(client.Config{
		BaseURL:  o.baseURL,
		WSURL:    wsURL,
		Origin:   o.origin,
		Platform: o.platform,
		Interval: o.interval,
		Logger:   log,
		Navigator: client.NavigatorFunc(func(location string) {
			select {
			case signedOut <- location:
			default:
			}
		}),
	})
	if err != nil {
		return err
	}

	in := client.LoginInput{
		Username: o.username,
		Password: os.Getenv(o.passwordEnv),
		Platform: o.platform,
	}
	if in.Username == "" {
		in.Email = o.email
	}
	u, err := s.Login(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "signed in user_id=%s role=%s; checking every %s\n", u.ID, u.Role, o.interval)

	if o.everywhere {
		res, err := s.SignOutEverywhere(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "revoked all sessions at %d\n", res.RevocationTime)
	}

	select {
	case location := <-signedOut:
		return errSignedOut{location: location}
	case <-ctx.Done():
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Logout(logoutCtx); err != nil {
			log.Warn("client.logout.fail", "err", err)
		}
		fmt.Fprintln(stdout, "signed out")
		return nil
	}
}
