package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goliatone/go-print"
	session "github.com/goliatone/go-session"
	"github.com/spf13/pflag"
)

// exchanger completes a provider login from the callback code.
type exchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*session.RemoteIdentity, error)
}

// env is what every command operates on.
type env struct {
	manager   *session.Manager
	avatars   *session.AvatarHandler
	exchanger exchanger
	out       io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"login":          {"login --email EMAIL --password PASSWORD", runLogin},
	"register":       {"register --name NAME --email EMAIL --password PASSWORD --confirm PASSWORD", runRegister},
	"logout":         {"logout", runLogout},
	"whoami":         {"whoami", runWhoami},
	"profile":        {"profile [--name NAME]", runProfile},
	"avatar":         {"avatar upload FILE | avatar remove", runAvatar},
	"reset-password": {"reset-password --email EMAIL", runResetPassword},
	"provider":       {"provider google|github", runProvider},
	"callback":       {"callback CODE", runCallback},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: sitectl COMMAND [flags]")
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("SITECTL_PASSWORD"), "account password (or SITECTL_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ok, err := e.manager.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if !ok {
		return session.ErrInvalidCredentials
	}
	return printState(e)
}

func runRegister(ctx context.Context, e *env, args []string) error {
	fs := flags("register")
	msg := session.RegisterUserMessage{}
	fs.StringVar(&msg.Name, "name", "", "display name")
	fs.StringVar(&msg.Email, "email", "", "account email")
	fs.StringVar(&msg.Password, "password", os.Getenv("SITECTL_PASSWORD"), "account password (or SITECTL_PASSWORD)")
	fs.StringVar(&msg.ConfirmPassword, "confirm", "", "password confirmation, defaults to --password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !fs.Changed("confirm") {
		msg.ConfirmPassword = msg.Password
	}

	msg.OnResponse = func(resp *session.RegisterUserResponse) {
		fmt.Fprintf(e.out, "registered %s, check your inbox to confirm the account\n", resp.Email)
	}
	return session.NewRegisterUserHandler(e.manager).Execute(ctx, msg)
}

func runLogout(ctx context.Context, e *env, _ []string) error {
	if err := e.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "signed out")
	return nil
}

func runWhoami(_ context.Context, e *env, _ []string) error {
	return printState(e)
}

func runProfile(ctx context.Context, e *env, args []string) error {
	fs := flags("profile")
	name := fs.String("name", "", "new display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !fs.Changed("name") {
		draft, err := e.manager.ProfileDraft(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out, print.MaybePrettyJSON(draft))
		return nil
	}

	if err := e.manager.UpdateProfile(ctx, session.ProfileUpdate{Name: name}); err != nil {
		return err
	}
	return printState(e)
}

func runAvatar(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("avatar: expected upload or remove")
	}

	switch args[0] {
	case "remove":
		url, err := e.avatars.Remove(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out, url)
		return nil
	case "upload":
		if len(args) < 2 {
			return fmt.Errorf("avatar upload: missing file")
		}
		file, closeFn, err := openAvatar(args[1])
		if err != nil {
			return err
		}
		defer closeFn()

		url, err := e.avatars.Upload(ctx, file)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out, url)
		return nil
	}
	return fmt.Errorf("avatar: unknown action %q", args[0])
}

// openAvatar opens path and sniffs its content type.
func openAvatar(path string) (*session.AvatarFile, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, err
	}

	return &session.AvatarFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(head[:n]),
		Size:        info.Size(),
		Body:        f,
	}, func() { f.Close() }, nil
}

func runResetPassword(ctx context.Context, e *env, args []string) error {
	fs := flags("reset-password")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg := session.InitializePasswordResetMessage{
		Email: *email,
		OnResponse: func(resp *session.InitializePasswordResetResponse) {
			fmt.Fprintf(e.out, "if %s has an account, a recovery email is on its way\n", resp.Email)
		},
	}
	return session.NewInitializePasswordResetHandler(e.manager).Execute(ctx, msg)
}

func runProvider(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provider: missing provider name")
	}
	target, err := e.manager.LoginWithProvider(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, "open this URL to continue, then run: sitectl callback CODE")
	fmt.Fprintln(e.out, target)
	return nil
}

func runCallback(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("callback: missing code")
	}
	if e.exchanger == nil {
		return fmt.Errorf("callback: provider login not available")
	}
	code := strings.TrimSpace(args[0])
	if _, err := e.exchanger.ExchangeCodeForSession(ctx, code); err != nil {
		return err
	}
	return printState(e)
}

func printState(e *env) error {
	_, err := fmt.Fprintln(e.out, print.MaybePrettyJSON(e.manager.State()))
	return err
}
