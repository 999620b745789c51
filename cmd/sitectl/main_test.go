package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIdentity struct {
	current  *session.RemoteIdentity
	codes    []string
	password string
}

func (s *stubIdentity) GetSession(context.Context) (*session.RemoteIdentity, error) {
	return s.current, nil
}

func (s *stubIdentity) SignInWithPassword(_ context.Context, email, password string) (*session.RemoteIdentity, error) {
	if password != s.password {
		return nil, &session.RemoteError{Service: "auth", Operation: "sign_in", Status: http.StatusBadRequest, Code: "invalid_credentials"}
	}
	s.current = &session.RemoteIdentity{ID: "user-1", Email: email}
	return s.current, nil
}

func (s *stubIdentity) SignUp(_ context.Context, email, _ string, _ map[string]any) (*session.RemoteIdentity, error) {
	return &session.RemoteIdentity{ID: "user-2", Email: email}, nil
}

func (s *stubIdentity) SignInWithOAuth(_ context.Context, provider, _ string) (string, error) {
	return "https://auth.example.com/authorize?provider=" + provider, nil
}

func (s *stubIdentity) SignOut(context.Context) error {
	s.current = nil
	return nil
}

func (s *stubIdentity) UpdateUser(_ context.Context, attrs session.UserAttributes) (*session.RemoteIdentity, error) {
	if name, ok := attrs.Data["full_name"].(string); ok {
		s.current.Metadata.FullName = name
	}
	return s.current, nil
}

func (s *stubIdentity) ResetPasswordForEmail(context.Context, string, string) error {
	return nil
}

func (s *stubIdentity) OnAuthStateChange(func(session.AuthChangeEvent)) func() {
	return func() {}
}

func (s *stubIdentity) ExchangeCodeForSession(_ context.Context, code string) (*session.RemoteIdentity, error) {
	s.codes = append(s.codes, code)
	return &session.RemoteIdentity{ID: "user-1", Email: "ana@example.com"}, nil
}

func newEnv(t *testing.T) (*env, *stubIdentity, *bytes.Buffer) {
	t.Helper()
	identity := &stubIdentity{password: "secret123"}
	manager := session.NewManager(identity, session.Config{})
	require.NoError(t, manager.Bootstrap(context.Background()))
	t.Cleanup(manager.Close)

	out := &bytes.Buffer{}
	return &env{manager: manager, exchanger: identity, out: out}, identity, out
}

func TestUsage(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), nil, out, out))
	assert.Contains(t, out.String(), "usage: sitectl COMMAND")
	assert.Contains(t, out.String(), "avatar upload FILE")
}

func TestUnknownCommand(t *testing.T) {
	stderr := &bytes.Buffer{}
	err := run(context.Background(), []string{"dance"}, &bytes.Buffer{}, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "dance"`)
	assert.Contains(t, stderr.String(), "usage:")
}

func TestLoginAndWhoami(t *testing.T) {
	e, _, out := newEnv(t)
	ctx := context.Background()

	require.NoError(t, execute(ctx, e, commands["login"], []string{"--email", "ana@example.com", "--password", "secret123"}))
	assert.Contains(t, out.String(), `"isAuthenticated": true`)

	out.Reset()
	require.NoError(t, execute(ctx, e, commands["whoami"], nil))
	assert.Contains(t, out.String(), `"email": "ana@example.com"`)
}

func TestLoginRejected(t *testing.T) {
	e, _, _ := newEnv(t)

	err := execute(context.Background(), e, commands["login"], []string{"--email", "ana@example.com", "--password", "nope"})
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Equal(t, "invalid email or password", describe(err))
}

func TestRegisterDefaultsConfirmation(t *testing.T) {
	e, _, out := newEnv(t)

	err := execute(context.Background(), e, commands["register"], []string{
		"--name", "Bia", "--email", "bia@example.com", "--password", "secret123",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "registered bia@example.com")
}

func TestProfileUpdate(t *testing.T) {
	e, _, out := newEnv(t)
	ctx := context.Background()
	require.NoError(t, execute(ctx, e, commands["login"], []string{"--email", "ana@example.com", "--password", "secret123"}))

	out.Reset()
	require.NoError(t, execute(ctx, e, commands["profile"], []string{"--name", "Ana Maria"}))
	assert.Contains(t, out.String(), `"name": "Ana Maria"`)
}

func TestProviderAndCallback(t *testing.T) {
	e, identity, out := newEnv(t)
	ctx := context.Background()

	require.NoError(t, execute(ctx, e, commands["provider"], []string{"github"}))
	assert.Contains(t, out.String(), "https://auth.example.com/authorize?provider=github")

	require.NoError(t, execute(ctx, e, commands["callback"], []string{" abc "}))
	assert.Equal(t, []string{"abc"}, identity.codes)
}

func TestHelpFlag(t *testing.T) {
	e, _, out := newEnv(t)

	require.NoError(t, execute(context.Background(), e, commands["login"], []string{"--help"}))
	assert.Contains(t, out.String(), "usage: sitectl login --email EMAIL")
}

func TestOpenAvatarSniffsType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "me.png")
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	require.NoError(t, os.WriteFile(path, png, 0o600))

	file, closeFn, err := openAvatar(path)
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, "me.png", file.Name)
	assert.Equal(t, "image/png", file.ContentType)
	assert.Equal(t, int64(len(png)), file.Size)
}
