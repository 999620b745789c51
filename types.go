package session

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// IdentityService is the remote identity capability the manager consumes.
type IdentityService interface {
	// GetSession returns the current identity, or nil when there is none.
	GetSession(ctx context.Context) (*RemoteIdentity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*RemoteIdentity, error)
	// SignUp creates an account. It must not start a session.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*RemoteIdentity, error)
	// SignInWithOAuth returns the URL the user agent has to visit.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*RemoteIdentity, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// OnAuthStateChange registers fn and returns a function that removes it.
	OnAuthStateChange(fn func(AuthChangeEvent)) (unsubscribe func())
}

// UserAttributes is the payload of an identity update.
type UserAttributes struct {
	Data map[string]any `json:"data,omitempty"`
}

// ObjectStorage is the remote object storage capability used for avatars.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, opts UploadOptions) error
	GetPublicURL(bucket, path string) string
	Remove(ctx context.Context, bucket string, paths []string) error
}

// UploadOptions controls how an object is written.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// DraftStore keeps profile edit drafts between visits. LoadDraft returns
// nil, nil when no draft exists.
type DraftStore interface {
	SaveDraft(ctx context.Context, draft ProfileDraft) error
	LoadDraft(ctx context.Context, userID string) (*ProfileDraft, error)
	ClearDraft(ctx context.Context, userID string) error
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }

func (defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] SESSION " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
