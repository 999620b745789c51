package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// loadSession returns the in memory session, restoring it from storage on
// first use. Malformed or tampered stored sessions are removed.
func (c *Client) loadSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.current != nil {
		s := *c.current
		c.mu.Unlock()
		return &s, nil
	}
	gen := c.generation
	c.mu.Unlock()

	raw, ok, err := c.storage.GetItem(ctx, c.config.StorageKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read stored session")
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !s.valid() {
		c.logger.Warn("discarding malformed stored session", "error", err)
		c.removeStored(ctx)
		return nil, nil
	}

	if c.config.Verifier != nil {
		if err := c.config.Verifier.Verify(s.AccessToken); err != nil {
			c.logger.Warn("discarding stored session with invalid token", "error", err)
			c.removeStored(ctx)
			return nil, nil
		}
	}

	s.stamp(c.now())
	if !c.restore(&s, gen) {
		return nil, nil
	}
	c.scheduleRefresh(&s)

	out := s
	return &out, nil
}

func (c *Client) saveSession(ctx context.Context, s *Session) error {
	return c.saveSessionAt(ctx, s, c.currentGeneration())
}

// saveSessionAt persists s unless the session was cleared after gen was
// taken, in which case it returns session.ErrNotAuthenticated and leaves
// storage empty.
func (c *Client) saveSessionAt(ctx context.Context, s *Session, gen uint64) error {
	s.stamp(c.now())
	if !s.valid() {
		return &session.TransportError{
			Service:   serviceName,
			Operation: "save_session",
			Err:       goerrors.New("identity service returned an incomplete session", goerrors.CategoryInternal),
		}
	}

	if c.currentGeneration() != gen {
		return session.ErrNotAuthenticated
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session")
	}
	if err := c.storage.SetItem(ctx, c.config.StorageKey, string(payload)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session")
	}

	cp := *s
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.removeStored(ctx)
		return session.ErrNotAuthenticated
	}
	c.current = &cp
	c.mu.Unlock()

	c.scheduleRefresh(s)
	return nil
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Client) clearSession(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	c.current = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if err := c.storage.RemoveItem(ctx, c.config.StorageKey); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove stored session")
	}
	return nil
}

func (c *Client) removeStored(ctx context.Context) {
	if err := c.storage.RemoveItem(ctx, c.config.StorageKey); err != nil {
		c.logger.Warn("could not remove stored session", "error", err)
	}
}

// restore installs a session read from storage unless the session was
// cleared while it was being read.
func (c *Client) restore(s *Session, gen uint64) bool {
	cp := *s
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.current = &cp
	return true
}

func (c *Client) expiresSoon(s *Session) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !c.now().Add(c.config.RefreshMargin).Before(exp)
}

// refreshSession exchanges refreshToken for a new session. When the service
// rejects the token the session is cleared and SIGNED_OUT is emitted. A
// refresh that completes after the session was cleared is discarded and
// reported as session.ErrNotAuthenticated.
func (c *Client) refreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	if c.current != nil && c.current.RefreshToken != refreshToken && !c.expiresSoon(c.current) {
		s := *c.current
		c.mu.Unlock()
		return &s, nil
	}
	gen := c.generation
	c.mu.Unlock()

	var s Session
	err := c.do(ctx, request{
		operation: "refresh",
		method:    http.MethodPost,
		path:      "/token",
		query:     url.Values{"grant_type": {"refresh_token"}},
		body:      map[string]string{"refresh_token": refreshToken},
	}, &s)
	if err != nil {
		if _, ok := session.AsRemoteError(err); ok && c.currentGeneration() == gen {
			c.logger.Warn("refresh token rejected, ending session", "error", err)
			if clearErr := c.clearSession(ctx); clearErr != nil {
				c.logger.Error("could not clear session", "error", clearErr)
			}
			c.emit(session.AuthEventSignedOut, nil)
		}
		return nil, err
	}

	if err := c.saveSessionAt(ctx, &s, gen); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			c.logger.Debug("discarding refresh that finished after sign out")
		}
		return nil, err
	}
	c.emit(session.AuthEventTokenRefreshed, &s)
	return &s, nil
}

func (c *Client) scheduleRefresh(s *Session) {
	if c.config.DisableAutoRefresh {
		return
	}
	exp := s.Expiry()
	if exp.IsZero() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	delay := exp.Sub(c.now()) - c.config.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, c.autoRefresh)
}

func (c *Client) autoRefresh() {
	c.mu.Lock()
	if c.closed || c.current == nil {
		c.mu.Unlock()
		return
	}
	refreshToken := c.current.RefreshToken
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if _, err := c.refreshSession(ctx, refreshToken); err != nil {
		if !session.IsTransportError(err) {
			return
		}
		c.logger.Warn("token refresh failed, retrying", "retry_in", c.config.RetryInterval, "error", err)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed && c.current != nil {
			c.timer = time.AfterFunc(c.config.RetryInterval, c.autoRefresh)
		}
	}
}
