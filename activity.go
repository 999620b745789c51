package session

import (
	"context"
	"time"
)

// ActivityEventType names a session or profile action. The first dot segment is
// the object type.
type ActivityEventType string

const (
	ActivityEventSessionRestored  ActivityEventType = "session.restored"
	ActivityEventLoginSuccess     ActivityEventType = "session.login.success"
	ActivityEventLoginFailure     ActivityEventType = "session.login.failure"
	ActivityEventLogout           ActivityEventType = "session.logout"
	ActivityEventRegistered       ActivityEventType = "session.register.success"
	ActivityEventRegisterFailure  ActivityEventType = "session.register.failure"
	ActivityEventProviderRedirect ActivityEventType = "session.provider.redirect"
	ActivityEventProfileUpdated   ActivityEventType = "profile.updated"
	ActivityEventAvatarUploaded   ActivityEventType = "profile.avatar.uploaded"
	ActivityEventAvatarRemoved    ActivityEventType = "profile.avatar.removed"
	ActivityEventPasswordReset    ActivityEventType = "session.password_reset.requested"
)

// ActivityEvent describes one completed or rejected operation.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives activity events. Errors are logged by the caller and
// never fail the operation that emitted the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type discardSink struct{}

func (discardSink) Record(context.Context, ActivityEvent) error { return nil }

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return discardSink{}
	}
	return s
}
