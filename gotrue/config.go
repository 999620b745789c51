package gotrue

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

const (
	defaultRefreshMargin = 30 * time.Second
	defaultRetryInterval = 10 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Config holds the identity client settings.
type Config struct {
	// URL is the project base URL, the client talks to URL + "/auth/v1".
	URL string
	// APIKey is the public anon key sent with every request.
	APIKey string

	HTTPClient *http.Client
	// Storage persists the session between runs. Defaults to MemoryStorage.
	Storage SessionStorage
	// StorageKey defaults to "sb-<project ref>-auth-token".
	StorageKey string

	// DisableAutoRefresh turns off the background token refresh.
	DisableAutoRefresh bool
	// RefreshMargin is how long before expiry the token is refreshed.
	RefreshMargin time.Duration
	// RetryInterval is the delay before retrying a refresh that failed to
	// reach the service.
	RetryInterval time.Duration

	// Verifier, when set, checks the signature of restored access tokens.
	Verifier TokenVerifier
	Logger   session.Logger
}

// Validate checks the required settings.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.APIKey, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid identity client configuration")
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(c.URL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.Storage == nil {
		c.Storage = NewMemoryStorage()
	}
	if c.StorageKey == "" {
		c.StorageKey = defaultStorageKey(c.URL)
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = defaultRefreshMargin
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return c
}

func defaultStorageKey(base string) string {
	ref := "local"
	if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
		ref, _, _ = strings.Cut(u.Hostname(), ".")
	}
	return "sb-" + ref + "-auth-token"
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return goerrors.New("must be an absolute URL", goerrors.CategoryValidation)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
