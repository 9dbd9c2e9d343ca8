package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/db"
	"chirp/cmd/internal/enforcer"
	"chirp/cmd/internal/revocation"
)

func runMigrate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("migrate", e)
	yes := fs.Bool("yes", false, "confirm a down migration")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("migrate takes exactly one of: up, down, version")
	}
	if err := requireFlag("database-url", e.databaseURL); err != nil {
		return err
	}

	if fs.Arg(0) == "version" {
		v, dirty, err := db.Version(e.databaseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "version=%d dirty=%t\n", v, dirty)
		return nil
	}

	dir, err := db.ParseDirection(fs.Arg(0))
	if err != nil {
		return usageError("%v", err)
	}
	if dir == db.Down && !*yes {
		return usageError("migrate down drops every Chirp table; pass --yes to confirm")
	}
	if err := db.Migrate(e.databaseURL, dir); err != nil {
		return err
	}
	e.log.Info("migrate.ok", "direction", string(dir))
	return nil
}

func runUser(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usageError("user takes a subcommand: create, set-role")
	}
	switch args[0] {
	case "create":
		return runUserCreate(ctx, e, args[1:])
	case "set-role":
		return runUserSetRole(ctx, e, args[1:])
	default:
		return usageError("unknown user subcommand %q", args[0])
	}
}

func runUserCreate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("user create", e)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "email address")
	displayName := fs.String("display-name", "", "display name")
	role := fs.String("role", string(identity.RoleUser), "user or admin")
	passwordEnv := fs.String("password-env", "CHIRP_USER_PASSWORD", "env var holding the initial password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if strings.TrimSpace(*username) == "" && strings.TrimSpace(*email) == "" {
		return usageError("one of --username or --email is required")
	}
	r, err := parseRole(*role)
	if err != nil {
		return err
	}
	password := os.Getenv(*passwordEnv)
	if password == "" {
		return usageError("%s is empty", *passwordEnv)
	}

	if err := e.connect(ctx); err != nil {
		return err
	}
	defer e.close()

	users, err := e.users()
	if err != nil {
		return err
	}
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Username:    optional(*username),
		Email:       optional(*email),
		DisplayName: optional(*displayName),
		Password:    password,
		Role:        r,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "created user_id=%s role=%s\n", u.ID, u.Role)
	return nil
}

func runUserSetRole(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("user set-role", e)
	userID := fs.String("user", "", "user id")
	role := fs.String("role", "", "user or admin")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("user", *userID); err != nil {
		return err
	}
	r, err := parseRole(*role)
	if err != nil {
		return err
	}

	if err := e.connect(ctx); err != nil {
		return err
	}
	defer e.close()

	users, err := e.users()
	if err != nil {
		return err
	}
	if err := users.SetRole(ctx, *userID, r); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "user_id=%s role=%s\n", *userID, r)
	return nil
}

// storeInvalidator revokes sessions straight in the session table. Live
// subscriptions held by running servers are not closed from here.
type storeInvalidator struct {
	store *session.PostgresStore
}

func (s storeInvalidator) InvalidateUser(ctx context.Context, now time.Time, userID string) error {
	_, err := s.store.RevokeAll(ctx, now, userID, session.ReasonRevokeAll)
	return err
}

func runRevoke(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("revoke", e)
	userID := fs.String("user", "", "user id whose sessions are revoked")
	actor := fs.String("actor", "chirpctl", "actor id recorded in the security log")
	recordOnly := fs.Bool("record-only", false, "only stamp the revocation record; sessions keep refreshing")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("user", *userID); err != nil {
		return err
	}

	if err := e.connect(ctx); err != nil {
		return err
	}
	defer e.close()

	if *recordOnly {
		e.log.Warn("revoke.record_only",
			"user_id", *userID,
			"hint", "refresh tokens stay valid; clients are signed out on their next session check",
		)
		ts, err := revocation.WriteRecordOnly(ctx, e.records(), e.audit(), *userID, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "record written user_id=%s revocation_time=%d\n", *userID, ts)
		return nil
	}

	issuer := revocation.NewIssuer(storeInvalidator{store: e.sessions()}, e.records(),
		revocation.WithSecurityLog(e.audit()),
		revocation.WithLogger(e.log),
	)
	res, err := issuer.RevokeAllSessions(ctx, &revocation.Caller{UserID: *actor, Admin: true}, *userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "revoked user_id=%s revocation_time=%d record_written=%t\n", *userID, res.RevocationTime, res.RecordWritten)
	fmt.Fprintf(e.stdout, "open clients sign out within %s (one enforcement interval)\n", enforcer.DefaultInterval)
	if !res.RecordWritten {
		return errors.New("sessions revoked but the revocation record was not written; rerun with --record-only")
	}
	return nil
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("status", e)
	userID := fs.String("user", "", "user id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("user", *userID); err != nil {
		return err
	}

	if err := e.connect(ctx); err != nil {
		return err
	}
	defer e.close()

	rec, err := e.records().Read(ctx, *userID)
	if err != nil {
		return err
	}
	last, err := e.sessions().LastAuthTime(ctx, *userID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}

	fmt.Fprintln(e.stdout, formatStatus(*userID, rec, last))
	return nil
}

// formatStatus renders a record next to the newest login. The latest login
// is valid when its second is not before the cutoff.
func formatStatus(userID string, rec revocation.Record, lastAuth time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "user_id:              %s\n", userID)

	cutoff, hasCutoff := rec.Cutoff()
	if hasCutoff {
		fmt.Fprintf(&b, "tokens_valid_after:   %d (%s)\n", cutoff, time.Unix(cutoff, 0).UTC().Format(time.RFC3339))
	} else {
		b.WriteString("tokens_valid_after:   none\n")
	}
	if rec.LastSessionRevocation != nil {
		fmt.Fprintf(&b, "last_revocation:      %s\n", *rec.LastSessionRevocation)
	}

	if lastAuth.IsZero() {
		b.WriteString("last_login:           none")
		return b.String()
	}
	fmt.Fprintf(&b, "last_login:           %s\n", lastAuth.UTC().Format(time.RFC3339))
	valid := !hasCutoff || lastAuth.Unix() >= cutoff
	fmt.Fprintf(&b, "latest_login_valid:   %t", valid)
	return b.String()
}

func parseRole(s string) (identity.Role, error) {
	r := identity.Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", usageError("--role must be user or admin, got %q", s)
	}
	return r, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
