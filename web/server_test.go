package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/contact"
	"github.com/goliatone/go-session/metrics"
	"github.com/goliatone/go-session/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t        *testing.T
	server   *web.Server
	visitors *web.Visitors
	identity *fakeIdentity
	storage  *fakeStorage
	cookie   *http.Cookie
	token    string

	mu      sync.Mutex
	created int
}

func newHarness(t *testing.T, mutate ...func(*fakeIdentity)) *harness {
	t.Helper()

	h := &harness{t: t, identity: newFakeIdentity(), storage: newFakeStorage()}
	for _, fn := range mutate {
		fn(h.identity)
	}

	h.visitors = web.NewVisitors(func(_ context.Context, id string) (*web.Visitor, error) {
		h.mu.Lock()
		h.created++
		h.mu.Unlock()

		manager := session.NewManager(h.identity, session.Config{})
		v := web.NewVisitor(id, manager, session.NewAvatarHandler(manager, h.storage))
		v.Exchanger = h.identity
		return v, nil
	})
	t.Cleanup(h.visitors.Close)

	reg := prometheus.NewRegistry()
	server, err := web.New(web.Config{
		Visitors: h.visitors,
		Contact:  contact.NewService(contact.InboxFunc(func(context.Context, contact.Submission) error { return nil })),
		Metrics:  metrics.NewCollector(reg),
		Gatherer: reg,
	})
	require.NoError(t, err)
	h.server = server
	return h
}

// do sends req with the visitor cookie and, on state changing methods, the
// CSRF header.
func (h *harness) do(req *http.Request) *http.Response {
	h.t.Helper()
	switch req.Method {
	case http.MethodGet, http.MethodHead:
	default:
		req.Header.Set(web.CSRFHeader, h.csrfToken())
	}
	return h.send(req)
}

func (h *harness) csrfToken() string {
	h.t.Helper()
	if h.token == "" {
		resp := h.send(httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
		require.Equal(h.t, http.StatusOK, resp.StatusCode)
		h.token = decode[map[string]string](h.t, resp)["token"]
		require.NotEmpty(h.t, h.token)
	}
	return h.token
}

// send issues req with only the visitor cookie attached.
func (h *harness) send(req *http.Request) *http.Response {
	h.t.Helper()
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	resp, err := h.server.App().Test(req, -1)
	require.NoError(h.t, err)
	for _, c := range resp.Cookies() {
		if c.Name == web.VisitorCookie {
			h.cookie = &http.Cookie{Name: c.Name, Value: c.Value}
		}
	}
	return resp
}

func (h *harness) json(method, target string, body any) *http.Response {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *harness) login() {
	h.t.Helper()
	resp := h.json(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": "secret123",
	})
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSessionIssuesVisitorCookie(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, h.cookie)

	state := decode[session.SessionState](t, resp)
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.IsLoading)
	assert.Nil(t, state.User)

	h.json(http.MethodGet, "/api/session", nil)
	assert.Equal(t, 1, h.created, "same cookie reuses the visitor")
	assert.Equal(t, 1, h.visitors.Len())
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decode[session.SessionState](t, resp)
	require.True(t, state.IsAuthenticated)
	assert.Equal(t, "Ana Silva", state.User.Name)

	resp = h.json(http.MethodGet, "/api/session", nil)
	state = decode[session.SessionState](t, resp)
	assert.True(t, state.IsAuthenticated)

	resp = h.json(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = decode[session.SessionState](t, resp)
	assert.False(t, state.IsAuthenticated)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decode[web.ErrorResponse](t, resp)
	assert.Equal(t, session.TextCodeInvalidCredentials, body.Code)
	assert.Equal(t, "invalid email or password", body.Error)
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/login", map[string]string{"password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[web.ErrorResponse](t, resp)
	assert.Equal(t, session.TextCodeEmailRequired, body.Code)
}

func TestLoginTransportFailure(t *testing.T) {
	h := newHarness(t, func(f *fakeIdentity) {
		f.signInErr = &session.TransportError{Service: "auth", Operation: "sign_in", Err: io.ErrUnexpectedEOF}
	})

	resp := h.json(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode[web.ErrorResponse](t, resp)
	assert.Equal(t, session.TextCodeTransport, body.Code)
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := h.do(req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/register", map[string]string{
		"name":             "Bia",
		"email":            "bia@example.com",
		"password":         "secret123",
		"confirm_password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "bia@example.com", body["email"])
	assert.Equal(t, true, body["success"])

	resp = h.json(http.MethodGet, "/api/session", nil)
	assert.False(t, decode[session.SessionState](t, resp).IsAuthenticated)
}

func TestRegisterPasswordMismatch(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/register", map[string]string{
		"name":             "Bia",
		"email":            "bia@example.com",
		"password":         "secret123",
		"confirm_password": "secret124",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.TextCodePasswordMismatch, decode[web.ErrorResponse](t, resp).Code)
}

func TestRegisterEmailTaken(t *testing.T) {
	h := newHarness(t, func(f *fakeIdentity) {
		f.signUpErr = &session.RemoteError{
			Service:   "auth",
			Operation: "sign_up",
			Status:    http.StatusUnprocessableEntity,
			Code:      "user_already_exists",
			Message:   "User already registered",
		}
	})

	resp := h.json(http.MethodPost, "/api/auth/register", map[string]string{
		"name":             "Ana",
		"email":            "ana@example.com",
		"password":         "secret123",
		"confirm_password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, session.TextCodeEmailAlreadyRegistered, decode[web.ErrorResponse](t, resp).Code)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPost, "/api/auth/password-reset", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["success"])

	resp = h.json(http.MethodPost, "/api/auth/password-reset", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderLogin(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodGet, "/api/auth/provider/github", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "https://project.supabase.co/auth/v1/authorize?provider=github", resp.Header.Get("Location"))

	resp = h.json(http.MethodGet, "/api/auth/provider/myspace", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.TextCodeProviderNotSupported, decode[web.ErrorResponse](t, resp).Code)
}

func TestProviderCallback(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodGet, "/auth/callback?code=abc", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/profile", resp.Header.Get("Location"))
	assert.Equal(t, []string{"abc"}, h.identity.exchanged)

	resp = h.json(http.MethodGet, "/api/session", nil)
	assert.True(t, decode[session.SessionState](t, resp).IsAuthenticated)
}

func TestProviderCallbackError(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodGet, "/auth/callback?error=access_denied", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?error=provider", resp.Header.Get("Location"))
	assert.Empty(t, h.identity.exchanged)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodPatch, "/api/profile", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.login()

	resp = h.json(http.MethodPatch, "/api/profile", map[string]string{"name": "Ana Maria"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ana Maria", decode[session.SessionState](t, resp).User.Name)

	resp = h.json(http.MethodPatch, "/api/profile", map[string]string{"email": "other@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.TextCodeEmailImmutable, decode[web.ErrorResponse](t, resp).Code)
}

func TestProfileDraft(t *testing.T) {
	h := newHarness(t)
	h.login()

	resp := h.json(http.MethodPut, "/api/profile/draft", map[string]string{"name": "Draft Name"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.json(http.MethodGet, "/api/profile/draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	draft := decode[session.ProfileDraft](t, resp)
	assert.Equal(t, "user-1", draft.UserID)
	assert.Equal(t, "Draft Name", draft.Name)
	assert.Equal(t, session.PlaceholderAvatar("ana@example.com"), draft.Avatar)
}

func avatarRequest(t *testing.T, contentType string, payload []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="avatar"; filename="me.png"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profile/avatar", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAvatarUploadAndRemove(t *testing.T) {
	h := newHarness(t)
	h.login()

	resp := h.do(avatarRequest(t, "image/png", []byte("png-bytes")))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	avatar := decode[map[string]string](t, resp)["avatar"]
	assert.True(t, strings.HasPrefix(avatar, "https://project.supabase.co/storage/v1/object/public/avatars/user-1-"))
	assert.True(t, strings.HasSuffix(avatar, ".png"))
	assert.Len(t, h.storage.uploaded, 1)

	resp = h.json(http.MethodDelete, "/api/profile/avatar", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.PlaceholderAvatar("ana@example.com"), decode[map[string]string](t, resp)["avatar"])
	assert.Len(t, h.storage.removed, 1)
}

func TestAvatarUploadRejectsNonImage(t *testing.T) {
	h := newHarness(t)
	h.login()

	resp := h.do(avatarRequest(t, "application/pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.TextCodeAvatarNotImage, decode[web.ErrorResponse](t, resp).Code)
	assert.Empty(t, h.storage.uploaded)
}

func TestAvatarUploadMissingFile(t *testing.T) {
	h := newHarness(t)
	h.login()

	resp := h.json(http.MethodPost, "/api/profile/avatar", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.TextCodeAvatarMissing, decode[web.ErrorResponse](t, resp).Code)
}

func TestContact(t *testing.T) {
	h := newHarness(t)

	raw, err := json.Marshal(map[string]string{
		"name":     "Ana",
		"email":    "ana@example.com",
		"whatsapp": "11987654321",
		"message":  "Olá",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/contact", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp := h.send(req)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "(11) 98765-4321", decode[map[string]any](t, resp)["whatsapp"])

	resp = h.json(http.MethodPost, "/api/contact", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.json(http.MethodGet, "/api/session", nil)

	resp := h.json(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `site_http_responses_total{status_code="200"}`)
}

func TestPages(t *testing.T) {
	h := newHarness(t)

	resp := h.json(http.MethodGet, "/profile", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = h.json(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `/api/auth/provider/github`)
	assert.Contains(t, string(raw), `<input type="hidden" name="_token" value="`)
	assert.Contains(t, string(raw), `<meta name="csrf-token" content="`)

	h.login()

	resp = h.json(http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "Ana Silva")

	resp = h.json(http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func csrfJSON(t *testing.T, method, target, token string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(web.CSRFHeader, token)
	}
	return req
}

func TestCSRFGuardsVisitorRoutes(t *testing.T) {
	h := newHarness(t)
	creds := map[string]string{"email": "ana@example.com", "password": "secret123"}

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", web.TextCodeCSRFMissing},
		{"not base64", "%%%", web.TextCodeCSRFMismatch},
		{"forged", "MTcwMDAwMDAwMDphYjpzb21lb25lOmZm", web.TextCodeCSRFMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.send(csrfJSON(t, http.MethodPost, "/api/auth/login", tt.token, creds))
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Equal(t, tt.code, decode[web.ErrorResponse](t, resp).Code)
		})
	}

	resp := h.json(http.MethodGet, "/api/session", nil)
	assert.False(t, decode[session.SessionState](t, resp).IsAuthenticated)

	resp = h.send(csrfJSON(t, http.MethodPost, "/api/auth/login", h.csrfToken(), creds))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRFTokenIsBoundToVisitor(t *testing.T) {
	h := newHarness(t)
	stolen := h.csrfToken()

	h.cookie = nil
	resp := h.send(csrfJSON(t, http.MethodPost, "/api/auth/login", stolen, map[string]string{
		"email":    "ana@example.com",
		"password": "secret123",
	}))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, web.TextCodeCSRFMismatch, decode[web.ErrorResponse](t, resp).Code)
}

func TestCSRFAcceptsFormField(t *testing.T) {
	h := newHarness(t)
	token := h.csrfToken()

	form := url.Values{
		"email":           {"ana@example.com"},
		"password":        {"secret123"},
		web.CSRFFormField: {token},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp := h.send(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[session.SessionState](t, resp).IsAuthenticated)
}

func TestCSRFExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.server = newServerWithCSRF(t, h, web.Config{CSRFTTL: time.Nanosecond})

	token := h.csrfToken()
	time.Sleep(1100 * time.Millisecond)

	resp := h.send(csrfJSON(t, http.MethodPost, "/api/auth/logout", token, nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, web.TextCodeCSRFExpired, decode[web.ErrorResponse](t, resp).Code)
}

func TestCSRFRejectsShortKey(t *testing.T) {
	_, err := web.New(web.Config{Visitors: web.NewVisitors(nil), CSRFKey: []byte("short")})
	assert.Error(t, err)
}

func newServerWithCSRF(t *testing.T, h *harness, cfg web.Config) *web.Server {
	t.Helper()
	cfg.Visitors = h.visitors
	server, err := web.New(cfg)
	require.NoError(t, err)
	return server
}

func TestVisitorsEvictIdle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	closed := 0
	var counts []int

	visitors := web.NewVisitors(func(_ context.Context, id string) (*web.Visitor, error) {
		manager := session.NewManager(newFakeIdentity(), session.Config{})
		return web.NewVisitor(id, manager, nil, func() { closed++ }), nil
	},
		web.WithVisitorTTL(10*time.Minute),
		web.WithVisitorClock(func() time.Time { return now }),
		web.WithVisitorGauge(func(n int) { counts = append(counts, n) }),
	)
	defer visitors.Close()

	ctx := context.Background()
	first, err := visitors.Get(ctx, "a")
	require.NoError(t, err)
	_, err = visitors.Get(ctx, "b")
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	_, err = visitors.Get(ctx, "b")
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, visitors.Evict())
	assert.Equal(t, 1, visitors.Len())
	assert.Equal(t, 1, closed)

	_, err = first.Manager.Login(ctx, "ana@example.com", "secret123")
	assert.ErrorIs(t, err, session.ErrManagerClosed)

	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestVisitorsClosed(t *testing.T) {
	visitors := web.NewVisitors(func(_ context.Context, id string) (*web.Visitor, error) {
		return web.NewVisitor(id, session.NewManager(newFakeIdentity(), session.Config{}), nil), nil
	})
	visitors.Close()

	_, err := visitors.Get(context.Background(), "a")
	assert.ErrorIs(t, err, session.ErrManagerClosed)
}
