package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chirp/cmd/internal/revocation"
)

func TestRun_UsageErrors(t *testing.T) {
	t.Setenv("CHIRP_DATABASE_URL", "")
	t.Setenv("CHIRP_USER_PASSWORD", "")

	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"explode"}, want: "unknown command"},
		{name: "migrate without direction", args: []string{"migrate"}, want: "exactly one"},
		{name: "migrate without dsn", args: []string{"migrate", "up"}, want: "--database-url"},
		{name: "migrate bad direction", args: []string{"migrate", "sideways", "--database-url", "postgres://x"}, want: "up or down"},
		{name: "migrate down unconfirmed", args: []string{"migrate", "down", "--database-url", "postgres://x"}, want: "--yes"},
		{name: "user without subcommand", args: []string{"user"}, want: "subcommand"},
		{name: "user create without login", args: []string{"user", "create"}, want: "--username or --email"},
		{name: "user create bad role", args: []string{"user", "create", "--username", "ana", "--role", "root"}, want: "--role"},
		{name: "user create without password", args: []string{"user", "create", "--username", "ana"}, want: "CHIRP_USER_PASSWORD"},
		{name: "set-role without user", args: []string{"user", "set-role", "--role", "admin"}, want: "--user"},
		{name: "revoke without user", args: []string{"revoke"}, want: "--user"},
		{name: "status without user", args: []string{"status"}, want: "--user"},
		{name: "bad flag", args: []string{"revoke", "--nope"}, want: "unknown flag"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tc.args, &stdout, &stderr)
			if !errors.Is(err, errUsage) {
				t.Fatalf("err=%v, want usage error", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestRun_RevokeWithoutDatabase(t *testing.T) {
	t.Setenv("CHIRP_DATABASE_URL", "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"revoke", "--user", "01J0000000000000000000000"}, &stdout, &stderr)
	if err == nil || errors.Is(err, errUsage) {
		t.Fatalf("err=%v, want connection error", err)
	}
	if !strings.Contains(err.Error(), "CHIRP_DATABASE_URL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"migrate", "revoke", "status", "user"} {
		if !strings.Contains(stdout.String(), name) {
			t.Fatalf("usage missing %q:\n%s", name, stdout.String())
		}
	}

	stdout.Reset()
	if err := run(context.Background(), []string{"revoke", "--help"}, &stdout, &stderr); err != nil {
		t.Fatalf("revoke --help: %v", err)
	}
	if !strings.Contains(stderr.String(), "--record-only") {
		t.Fatalf("revoke help missing flags:\n%s", stderr.String())
	}
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()

	revokedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := revokedAt.Unix()
	iso := revokedAt.Format(time.RFC3339)
	rec := revocation.Record{UserID: "u1", TokensValidAfterTime: &cutoff, LastSessionRevocation: &iso}

	cases := []struct {
		name     string
		rec      revocation.Record
		lastAuth time.Time
		want     []string
	}{
		{
			name: "never revoked never logged in",
			rec:  revocation.Record{UserID: "u1"},
			want: []string{"tokens_valid_after:   none", "last_login:           none"},
		},
		{
			name:     "login before cutoff",
			rec:      rec,
			lastAuth: revokedAt.Add(-time.Second),
			want:     []string{"2026-03-01T12:00:00Z", "latest_login_valid:   false"},
		},
		{
			name:     "login in the cutoff second",
			rec:      rec,
			lastAuth: revokedAt,
			want:     []string{"latest_login_valid:   true"},
		},
		{
			name:     "no cutoff",
			rec:      revocation.Record{UserID: "u1"},
			lastAuth: revokedAt,
			want:     []string{"latest_login_valid:   true"},
		},
	}

	for _, tc := range cases {
		got := formatStatus("u1", tc.rec, tc.lastAuth)
		for _, w := range tc.want {
			if !strings.Contains(got, w) {
				t.Fatalf("%s: output missing %q:\n%s", tc.name, w, got)
			}
		}
	}
}
