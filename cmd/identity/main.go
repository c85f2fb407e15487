// Command identity runs the identity use cases against the configured
// backends.
//
//	identity register -email ada@example.com -password 'correct horse'
//	identity login -id <uuid> -password 'correct horse'
//	identity whois -email ada@example.com
//	identity rebuild
//	identity loadtest -n 1000
//
// Settings come from IDENTITY_* environment variables, see package config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/identity-go/config"
	"github.com/codewandler/identity-go/core/bus"
	"github.com/codewandler/identity-go/identity/app"
	"github.com/codewandler/identity-go/identity/user"
)

const usage = `usage: identity <command> [flags]

commands:
  register  register a new user
  login     log a user in by id
  whois     look up the auth data of an email
  rebuild   replay the event log into the read model
  loadtest  register and log in many users
`

var errUsage = errors.New("usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := cfg.NewLogger(os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	name, args := args[0], args[1:]

	var cmd subcommand
	switch name {
	case "register":
		cmd = runRegister
	case "login":
		cmd = runLogin
	case "whois":
		cmd = runWhois
	case "rebuild":
		cmd = runRebuild
	case "loadtest":
		cmd = runLoadtest
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("close", slog.Any("error", err))
		}
	}()

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, svc, log)
		defer stopMetrics()
	}

	return svc.exec(ctx, cmd, args, stdout)
}

type subcommand func(ctx context.Context, svc *service, args []string, stdout io.Writer) error

func serveMetrics(addr string, svc *service, log *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", slog.Any("error", err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runRegister(ctx context.Context, svc *service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var (
		id       = fs.String("id", "", "user id (a new UUID when empty)")
		email    = fs.String("email", "", "email address")
		password = fs.String("password", "", "plain password")
		dob      = fs.String("dob", "", "date of birth, YYYY-MM-DD")
		name     = fs.String("name", "", "display name")
	)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *id == "" {
		*id = user.NewID().String()
	}

	if err := svc.bus.Dispatch(ctx, app.RegisterUser{
		ID:          *id,
		Email:       *email,
		Password:    *password,
		DateOfBirth: *dob,
		DisplayName: *name,
	}); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"id": *id})
}

func runLogin(ctx context.Context, svc *service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var (
		id       = fs.String("id", "", "user id")
		password = fs.String("password", "", "plain password")
	)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if err := svc.bus.Dispatch(ctx, app.LoginUser{UserID: *id, Password: *password}); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"id": *id, "status": "logged_in"})
}

func runWhois(ctx context.Context, svc *service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("whois", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	data, err := bus.Ask[*app.AuthData](ctx, svc.bus, app.FindUserAuthDataByEmail{Email: *email})
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no user with email %q", *email)
	}
	return writeJSON(stdout, data)
}

func runRebuild(ctx context.Context, svc *service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	res, err := svc.rebuild(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]uint64{"events": uint64(res.Events), "last_seq": res.LastSeq})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
