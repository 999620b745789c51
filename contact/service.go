package contact

import (
	"context"
	"html"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"
)

// DefaultPerMinute is the number of submissions a sender may make per minute.
const DefaultPerMinute = 5

const limiterIdleTTL = 10 * time.Minute

// Submission is a validated and sanitized contact request.
type Submission struct {
	Name       string    `json:"name"`
	Company    string    `json:"company,omitempty"`
	Email      string    `json:"email"`
	WhatsApp   string    `json:"whatsapp"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbox receives accepted submissions.
type Inbox interface {
	Deliver(ctx context.Context, sub Submission) error
}

// InboxFunc adapts a function to Inbox.
type InboxFunc func(ctx context.Context, sub Submission) error

func (f InboxFunc) Deliver(ctx context.Context, sub Submission) error {
	return f(ctx, sub)
}

// LogInbox writes submissions to the logger.
type LogInbox struct {
	Logger session.Logger
}

func (l LogInbox) Deliver(_ context.Context, sub Submission) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("contact request received",
		"name", sub.Name,
		"company", sub.Company,
		"email", sub.Email,
		"whatsapp", sub.WhatsApp,
		"length", len([]rune(sub.Message)),
	)
	return nil
}

type senderLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Service accepts contact submissions.
type Service struct {
	inbox  Inbox
	logger session.Logger
	policy *bluemonday.Policy
	now    func() time.Time

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*senderLimiter
}

type Option func(*Service)

func WithLogger(logger session.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRate sets the per sender allowance. Zero or negative disables limiting.
func WithRate(perMinute int) Option {
	return func(s *Service) {
		if perMinute <= 0 {
			s.limit = rate.Inf
			s.burst = 0
			return
		}
		s.limit = rate.Limit(float64(perMinute) / 60.0)
		s.burst = perMinute
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service delivering to inbox, or to a LogInbox when
// inbox is nil.
func NewService(inbox Inbox, opts ...Option) *Service {
	s := &Service{
		inbox:    inbox,
		policy:   bluemonday.StrictPolicy(),
		now:      time.Now,
		limit:    rate.Limit(float64(DefaultPerMinute) / 60.0),
		burst:    DefaultPerMinute,
		limiters: make(map[string]*senderLimiter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.inbox == nil {
		s.inbox = LogInbox{Logger: s.logger}
	}
	return s
}

// Submit validates the form, applies the sender rate limit and delivers the
// sanitized submission. sender identifies the caller, typically its address.
func (s *Service) Submit(ctx context.Context, sender string, form Form) (Submission, error) {
	select {
	case <-ctx.Done():
		return Submission{}, ctx.Err()
	default:
	}

	if verr := goerrors.ValidateWithOzzo(form.Validate, "invalid contact request"); verr != nil {
		return Submission{}, verr.WithTextCode(TextCodeInvalidForm).WithCode(goerrors.CodeBadRequest)
	}

	phone, err := form.E164()
	if err != nil {
		return Submission{}, err
	}

	if !s.allow(sender) {
		s.warn("contact rate limit exceeded", "sender", sender)
		return Submission{}, ErrRateLimited
	}

	sub := Submission{
		Name:       s.clean(form.Name),
		Company:    s.clean(form.Company),
		Email:      strings.ToLower(strings.TrimSpace(form.Email)),
		WhatsApp:   phone,
		Message:    s.clean(form.Message),
		ReceivedAt: s.now().UTC(),
	}

	if err := s.inbox.Deliver(ctx, sub); err != nil {
		return Submission{}, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver contact request")
	}
	return sub, nil
}

// clean strips markup and returns plain text. The policy escapes entities,
// so they are decoded again.
func (s *Service) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

func (s *Service) allow(sender string) bool {
	if s.limit == rate.Inf {
		return true
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastAccess) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}

	entry, ok := s.limiters[sender]
	if !ok {
		entry = &senderLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[sender] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
