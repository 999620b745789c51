package web

import (
	"context"
	"sync"
	"time"

	session "github.com/goliatone/go-session"
)

// DefaultVisitorTTL is how long an idle visitor keeps its manager.
const DefaultVisitorTTL = 30 * time.Minute

// CodeExchanger completes a provider login from the callback code.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*session.RemoteIdentity, error)
}

// Visitor is the session bundle serving one browser.
type Visitor struct {
	ID        string
	Manager   *session.Manager
	Avatars   *session.AvatarHandler
	Exchanger CodeExchanger

	closers  []func()
	lastSeen time.Time
}

// NewVisitor bundles a manager and avatar handler. closers run after the
// manager is closed, in order.
func NewVisitor(id string, manager *session.Manager, avatars *session.AvatarHandler, closers ...func()) *Visitor {
	return &Visitor{
		ID:      id,
		Manager: manager,
		Avatars: avatars,
		closers: closers,
	}
}

func (v *Visitor) Close() {
	if v.Manager != nil {
		v.Manager.Close()
	}
	for _, fn := range v.closers {
		if fn != nil {
			fn()
		}
	}
}

// VisitorFactory builds the bundle for a visitor id. The registry
// bootstraps the returned manager.
type VisitorFactory func(ctx context.Context, id string) (*Visitor, error)

// Visitors keeps one Visitor per browser and evicts idle ones.
type Visitors struct {
	factory  VisitorFactory
	ttl      time.Duration
	logger   session.Logger
	now      func() time.Time
	onChange func(n int)

	mu     sync.Mutex
	items  map[string]*Visitor
	closed bool
}

type VisitorsOption func(*Visitors)

func WithVisitorTTL(ttl time.Duration) VisitorsOption {
	return func(v *Visitors) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

func WithVisitorLogger(logger session.Logger) VisitorsOption {
	return func(v *Visitors) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithVisitorClock(now func() time.Time) VisitorsOption {
	return func(v *Visitors) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVisitorGauge registers a callback receiving the visitor count after
// every change.
func WithVisitorGauge(fn func(n int)) VisitorsOption {
	return func(v *Visitors) {
		v.onChange = fn
	}
}

func NewVisitors(factory VisitorFactory, opts ...VisitorsOption) *Visitors {
	v := &Visitors{
		factory: factory,
		ttl:     DefaultVisitorTTL,
		logger:  nopLogger{},
		now:     time.Now,
		items:   make(map[string]*Visitor),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Get returns the visitor for id, creating and bootstrapping it on first use.
func (v *Visitors) Get(ctx context.Context, id string) (*Visitor, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, session.ErrManagerClosed
	}
	if existing, ok := v.items[id]; ok {
		existing.lastSeen = v.now()
		v.mu.Unlock()
		return existing, nil
	}
	v.mu.Unlock()

	created, err := v.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := created.Manager.Bootstrap(ctx); err != nil {
		created.Close()
		return nil, err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		created.Close()
		return nil, session.ErrManagerClosed
	}
	if existing, ok := v.items[id]; ok {
		existing.lastSeen = v.now()
		v.mu.Unlock()
		created.Close()
		return existing, nil
	}
	created.lastSeen = v.now()
	v.items[id] = created
	n := len(v.items)
	v.mu.Unlock()

	v.logger.Debug("visitor session created", "visitor", id)
	v.changed(n)
	return created, nil
}

// Len returns the number of live visitors.
func (v *Visitors) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Evict closes visitors idle for longer than the TTL and returns how many
// were removed.
func (v *Visitors) Evict() int {
	cutoff := v.now().Add(-v.ttl)

	v.mu.Lock()
	var stale []*Visitor
	for id, visitor := range v.items {
		if visitor.lastSeen.Before(cutoff) {
			stale = append(stale, visitor)
			delete(v.items, id)
		}
	}
	n := len(v.items)
	v.mu.Unlock()

	for _, visitor := range stale {
		visitor.Close()
	}
	if len(stale) > 0 {
		v.logger.Debug("evicted idle visitors", "count", len(stale))
		v.changed(n)
	}
	return len(stale)
}

// Run evicts idle visitors every interval until ctx is done.
func (v *Visitors) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Evict()
		}
	}
}

// Close closes every visitor. Later calls to Get fail.
func (v *Visitors) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	items := v.items
	v.items = make(map[string]*Visitor)
	v.mu.Unlock()

	for _, visitor := range items {
		visitor.Close()
	}
	v.changed(0)
}

func (v *Visitors) changed(n int) {
	if v.onChange != nil {
		v.onChange(n)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
