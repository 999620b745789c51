package web_test

import (
	"context"
	"io"
	"net/http"
	"sync"

	session "github.com/goliatone/go-session"
)

type fakeIdentity struct {
	mu        sync.Mutex
	current   *session.RemoteIdentity
	accounts  map[string]string
	signInErr error
	signUpErr error
	exchanged []string
	listeners []func(session.AuthChangeEvent)
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{accounts: map[string]string{"ana@example.com": "secret123"}}
}

func anaIdentity() *session.RemoteIdentity {
	return &session.RemoteIdentity{
		ID:       "user-1",
		Email:    "ana@example.com",
		Metadata: session.IdentityMetadata{FullName: "Ana Silva"},
	}
}

func (f *fakeIdentity) GetSession(context.Context) (*session.RemoteIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, email, password string) (*session.RemoteIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	if f.accounts[email] != password {
		return nil, &session.RemoteError{
			Service:   "auth",
			Operation: "sign_in",
			Status:    http.StatusBadRequest,
			Code:      "invalid_credentials",
			Message:   "Invalid login credentials",
		}
	}
	f.current = anaIdentity()
	return f.current, nil
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _ string, _ map[string]any) (*session.RemoteIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &session.RemoteIdentity{ID: "user-2", Email: email}, nil
}

func (f *fakeIdentity) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	return "https://project.supabase.co/auth/v1/authorize?provider=" + provider, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	return nil
}

func (f *fakeIdentity) UpdateUser(_ context.Context, attrs session.UserAttributes) (*session.RemoteIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, session.ErrNotAuthenticated
	}
	if name, ok := attrs.Data["full_name"].(string); ok {
		f.current.Metadata.FullName = name
	}
	if avatar, ok := attrs.Data["avatar_url"].(string); ok {
		f.current.Metadata.AvatarURL = avatar
	}
	out := *f.current
	return &out, nil
}

func (f *fakeIdentity) ResetPasswordForEmail(context.Context, string, string) error {
	return nil
}

func (f *fakeIdentity) OnAuthStateChange(fn func(session.AuthChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

// ExchangeCodeForSession signs in and notifies listeners like the real client.
func (f *fakeIdentity) ExchangeCodeForSession(_ context.Context, code string) (*session.RemoteIdentity, error) {
	f.mu.Lock()
	f.exchanged = append(f.exchanged, code)
	f.current = anaIdentity()
	identity := *f.current
	listeners := append([]func(session.AuthChangeEvent){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(session.AuthChangeEvent{Type: session.AuthEventSignedIn, Identity: &identity})
	}
	return &identity, nil
}

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	removed  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) Upload(_ context.Context, bucket, path string, body io.Reader, _ session.UploadOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[bucket+"/"+path] = data
	return nil
}

func (s *fakeStorage) GetPublicURL(bucket, path string) string {
	return "https://project.supabase.co/storage/v1/object/public/" + bucket + "/" + path
}

func (s *fakeStorage) Remove(_ context.Context, bucket string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.removed = append(s.removed, bucket+"/"+p)
	}
	return nil
}
