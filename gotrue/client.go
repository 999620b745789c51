package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session"
)

const serviceName = "identity"

// Client talks to a GoTrue compatible identity service and implements
// session.IdentityService.
type Client struct {
	config     Config
	httpClient *http.Client
	storage    SessionStorage
	logger     session.Logger
	now        func() time.Time

	refreshMu sync.Mutex

	mu      sync.Mutex
	current *Session
	timer   *time.Timer
	closed  bool
	// generation changes whenever the session is cleared. Writes that
	// started under an older generation are dropped.
	generation uint64

	listenersMu sync.Mutex
	listeners   map[uint64]func(session.AuthChangeEvent)
	nextID      uint64
}

var _ session.IdentityService = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &Client{
		config:     cfg,
		httpClient: cfg.HTTPClient,
		storage:    cfg.Storage,
		logger:     cfg.Logger,
		now:        time.Now,
		listeners:  make(map[uint64]func(session.AuthChangeEvent)),
	}, nil
}

// OnAuthStateChange implements session.IdentityService.
func (c *Client) OnAuthStateChange(fn func(session.AuthChangeEvent)) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// AccessToken returns the current access token or "".
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

// Close stops the refresh timer and drops all listeners. The persisted
// session is kept.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.listenersMu.Lock()
	c.listeners = make(map[uint64]func(session.AuthChangeEvent))
	c.listenersMu.Unlock()
}

func (c *Client) emit(eventType session.AuthEventType, s *Session) {
	event := session.AuthChangeEvent{Type: eventType}
	if s != nil {
		event.Identity = s.User.Identity()
	}

	c.listenersMu.Lock()
	fns := make([]func(session.AuthChangeEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
	token     string
}

// do sends req and decodes a successful response into out. Connection and
// decoding failures are reported as *session.TransportError, error responses
// as *session.RemoteError.
func (c *Client) do(ctx context.Context, req request, out any) error {
	endpoint := c.config.URL + "/auth/v1" + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return &session.TransportError{Service: serviceName, Operation: req.operation, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: req.operation, Err: err}
	}

	token := req.token
	if token == "" {
		token = c.config.APIKey
	}
	httpReq.Header.Set("apikey", c.config.APIKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: req.operation, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: req.operation, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(req.operation, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &session.TransportError{Service: serviceName, Operation: req.operation, Err: err}
	}
	return nil
}

func parseError(operation string, status int, raw []byte) *session.RemoteError {
	remote := &session.RemoteError{
		Service:   serviceName,
		Operation: operation,
		Status:    status,
		Raw:       raw,
	}

	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		remote.Message = strings.TrimSpace(string(raw))
		return remote
	}

	remote.Code = firstNonEmpty(body.ErrorCode, body.Error)
	if s, ok := body.Code.(string); ok && remote.Code == "" {
		remote.Code = s
	}
	remote.Message = firstNonEmpty(body.Msg, body.ErrorDescription, body.Message, body.Error)
	return remote
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
