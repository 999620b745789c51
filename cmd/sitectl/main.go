package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/activitymap"
	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/internal/app"
	"github.com/spf13/pflag"
)

const cliSessionKey = "sitectl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(stdout)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lgr := app.NewLogger(cfg.LogLevel)
	a, err := app.New(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.NewSession(cliSessionKey, nil, false, activitymap.WithChannel("cli"))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Manager.Bootstrap(ctx); err != nil {
		return err
	}

	e := &env{
		manager:   s.Manager,
		avatars:   s.Avatars,
		exchanger: s.Identity,
		out:       stdout,
	}
	return execute(ctx, e, cmd, args[1:])
}

func execute(ctx context.Context, e *env, cmd command, args []string) error {
	err := cmd.run(ctx, e, args)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintln(e.out, "usage: sitectl "+cmd.usage)
		return nil
	}
	return err
}

// describe turns err into a message for the terminal.
func describe(err error) string {
	switch session.ErrorKind(err) {
	case "transport":
		return "could not reach the authentication service, check your connection"
	case "invalid_credentials":
		return "invalid email or password"
	}
	return err.Error()
}
