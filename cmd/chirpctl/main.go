// chirpctl is the operator CLI for a Chirp deployment: schema migrations,
// user administration and offline session revocation. It talks to Postgres
// directly and never goes through the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

// command is one chirpctl subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"migrate": {summary: "apply or inspect schema migrations (up | down | version)", run: runMigrate},
	"user":    {summary: "create users and change roles (create | set-role)", run: runUser},
	"revoke":  {summary: "revoke every session of a user", run: runRevoke},
	"status":  {summary: "show a user's revocation record and last login", run: runStatus},
}

// errUsage marks an invocation error; main prints usage for it.
var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return usageError("unknown command %q", args[0])
	}
	err := cmd.run(ctx, newEnv(stdout, stderr), args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Usage: chirpctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Connection settings come from CHIRP_DATABASE_URL and CHIRP_REDIS_URL")
	fmt.Fprintln(w, "unless overridden with --database-url and --redis-url.")
}

// newFlagSet returns a flag set carrying the shared connection flags.
func newFlagSet(name string, e *env) *pflag.FlagSet {
	fs := pflag.NewFlagSet("chirpctl "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVar(&e.databaseURL, "database-url", e.databaseURL, "Postgres DSN")
	fs.StringVar(&e.redisURL, "redis-url", e.redisURL, "Redis URL of the revocation record cache")
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usageError("%v", err)
	}
	return nil
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return usageError("--%s is required", name)
	}
	return nil
}
