package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	// CSRFHeader carries the token on API calls.
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField carries the token on form posts.
	CSRFFormField = "_token"
	// DefaultCSRFTTL is how long an issued token is accepted.
	DefaultCSRFTTL = 12 * time.Hour

	TextCodeCSRFMissing  = "csrf_missing"
	TextCodeCSRFMismatch = "csrf_mismatch"
	TextCodeCSRFExpired  = "csrf_expired"

	csrfKey       = "csrf_token"
	csrfNonceSize = 16
	csrfMinKey    = 32
)

var (
	ErrCSRFMissing = goerrors.New("csrf token missing", goerrors.CategoryAuthz).
			WithTextCode(TextCodeCSRFMissing).
			WithCode(goerrors.CodeForbidden)

	ErrCSRFMismatch = goerrors.New("csrf token mismatch", goerrors.CategoryAuthz).
			WithTextCode(TextCodeCSRFMismatch).
			WithCode(goerrors.CodeForbidden)

	ErrCSRFExpired = goerrors.New("csrf token expired", goerrors.CategoryAuthz).
			WithTextCode(TextCodeCSRFExpired).
			WithCode(goerrors.CodeForbidden)
)

var csrfSafeMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace}

// csrfGuard issues and checks stateless tokens bound to the visitor id.
// A token is base64url("unix:nonce:visitor:hmac").
type csrfGuard struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func newCSRFGuard(key []byte, ttl time.Duration) (*csrfGuard, error) {
	if len(key) == 0 {
		key = make([]byte, csrfMinKey)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("csrf: generate key: %w", err)
		}
	}
	if len(key) < csrfMinKey {
		return nil, fmt.Errorf("csrf: key must be at least %d bytes, got %d", csrfMinKey, len(key))
	}
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	return &csrfGuard{key: key, ttl: ttl, now: time.Now}, nil
}

// middleware stores a fresh token for the page and rejects unsafe requests
// that do not echo a valid one. It must run after the visitor middleware.
func (g *csrfGuard) middleware(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		visitorID := currentVisitor(ctx).ID

		token, err := g.issue(visitorID)
		if err != nil {
			return err
		}
		ctx.Locals(csrfKey, token)

		if slices.Contains(csrfSafeMethods, strings.ToUpper(ctx.Method())) {
			return next(ctx)
		}

		received := ctx.FormValue(CSRFFormField)
		if received == "" {
			received = ctx.GetString(CSRFHeader, "")
		}
		if err := g.verify(received, visitorID); err != nil {
			return err
		}
		return next(ctx)
	}
}

func (g *csrfGuard) issue(visitorID string) (string, error) {
	nonce := make([]byte, csrfNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	payload := strconv.FormatInt(g.now().UTC().Unix(), 10) + ":" + hex.EncodeToString(nonce) + ":" + visitorID
	token := payload + ":" + hex.EncodeToString(g.sign(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func (g *csrfGuard) verify(token, visitorID string) error {
	if token == "" {
		return ErrCSRFMissing
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrCSRFMismatch
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 4 {
		return ErrCSRFMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil || !hmac.Equal(signature, g.sign(strings.Join(parts[:3], ":"))) {
		return ErrCSRFMismatch
	}
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(visitorID)) != 1 {
		return ErrCSRFMismatch
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrCSRFMismatch
	}
	if g.now().After(time.Unix(issued, 0).Add(g.ttl)) {
		return ErrCSRFExpired
	}
	return nil
}

func (g *csrfGuard) sign(payload string) []byte {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// csrfToken returns the token stored by the middleware for this request.
func csrfToken(ctx router.Context) string {
	token, _ := ctx.Locals(csrfKey).(string)
	return token
}

// CSRFTemplateHelpers returns the token helpers for the page being rendered.
func CSRFTemplateHelpers(token string) map[string]any {
	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + CSRFFormField + `" value="` + token + `">`,
		"csrf_meta":        `<meta name="csrf-token" content="` + token + `">`,
		"csrf_header_name": CSRFHeader,
	}
}
