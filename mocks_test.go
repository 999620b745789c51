package session_test

import (
	"context"
	"io"
	"sync"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/mock"
)

// MockIdentityService implements session.IdentityService. Listener
// registration is tracked directly so tests can emit auth events.
type MockIdentityService struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]func(session.AuthChangeEvent)
	next      int
}

func (m *MockIdentityService) GetSession(ctx context.Context) (*session.RemoteIdentity, error) {
	args := m.Called(ctx)
	return identityArg(args, 0), args.Error(1)
}

func (m *MockIdentityService) SignInWithPassword(ctx context.Context, email, password string) (*session.RemoteIdentity, error) {
	args := m.Called(ctx, email, password)
	return identityArg(args, 0), args.Error(1)
}

func (m *MockIdentityService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.RemoteIdentity, error) {
	args := m.Called(ctx, email, password, metadata)
	return identityArg(args, 0), args.Error(1)
}

func (m *MockIdentityService) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	args := m.Called(ctx, provider, redirectTo)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityService) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityService) UpdateUser(ctx context.Context, attrs session.UserAttributes) (*session.RemoteIdentity, error) {
	args := m.Called(ctx, attrs)
	return identityArg(args, 0), args.Error(1)
}

func (m *MockIdentityService) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

func (m *MockIdentityService) OnAuthStateChange(fn func(session.AuthChangeEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]func(session.AuthChangeEvent))
	}
	m.next++
	id := m.next
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *MockIdentityService) Emit(event session.AuthChangeEvent) {
	m.mu.Lock()
	fns := make([]func(session.AuthChangeEvent), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (m *MockIdentityService) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// MockObjectStorage implements session.ObjectStorage.
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Upload(ctx context.Context, bucket, path string, body io.Reader, opts session.UploadOptions) error {
	args := m.Called(ctx, bucket, path, body, opts)
	return args.Error(0)
}

func (m *MockObjectStorage) GetPublicURL(bucket, path string) string {
	args := m.Called(bucket, path)
	return args.String(0)
}

func (m *MockObjectStorage) Remove(ctx context.Context, bucket string, paths []string) error {
	args := m.Called(ctx, bucket, paths)
	return args.Error(0)
}

func identityArg(args mock.Arguments, i int) *session.RemoteIdentity {
	if v := args.Get(i); v != nil {
		return v.(*session.RemoteIdentity)
	}
	return nil
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) has(level, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && c.message == message {
			return true
		}
	}
	return false
}
