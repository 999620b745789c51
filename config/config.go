// Package config loads the site configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	EnvSupabaseURL     = "SUPABASE_URL"
	EnvSupabaseAnonKey = "SUPABASE_ANON_KEY"

	TextCodeMissingEnv = "config_missing_env"
	TextCodeInvalid    = "config_invalid"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	JWKSURL         string `env:"SUPABASE_JWKS_URL"`
	JWTSecret       string `env:"SUPABASE_JWT_SECRET"`

	Addr             string        `env:"SITE_ADDR" envDefault:":8080"`
	Database         string        `env:"SITE_DATABASE" envDefault:"file:site.db?cache=shared"`
	AvatarBucket     string        `env:"SITE_AVATAR_BUCKET" envDefault:"avatars"`
	AuthRedirectURL  string        `env:"SITE_AUTH_REDIRECT_URL" envDefault:"http://localhost:8080/auth/callback"`
	PasswordResetURL string        `env:"SITE_PASSWORD_RESET_URL"`
	LogLevel         string        `env:"SITE_LOG_LEVEL" envDefault:"info"`
	VisitorTTL       time.Duration `env:"SITE_VISITOR_TTL" envDefault:"30m"`
	ContactRate      int           `env:"SITE_CONTACT_RATE" envDefault:"5"`
	// CSRFSecret signs form tokens. Empty means a per process random key.
	CSRFSecret string        `env:"SITE_CSRF_SECRET"`
	CSRFTTL    time.Duration `env:"SITE_CSRF_TTL" envDefault:"12h"`
	// SecureCookies marks the visitor cookie Secure.
	SecureCookies bool `env:"SITE_SECURE_COOKIES" envDefault:"false"`
}

// Load parses the environment. Every missing required variable is named in
// the returned error.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse environment").
			WithTextCode(TextCodeInvalid)
	}

	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.SupabaseAnonKey = strings.TrimSpace(cfg.SupabaseAnonKey)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, goerrors.New(
			"missing required environment variables: "+strings.Join(missing, ", "),
			goerrors.CategoryValidation,
		).WithTextCode(TextCodeMissingEnv).
			WithMetadata(map[string]any{"missing": missing})
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
			WithTextCode(TextCodeInvalid)
	}
	return cfg, nil
}

// Missing lists the required variables that are unset.
func (c *Config) Missing() []string {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, EnvSupabaseURL)
	}
	if c.SupabaseAnonKey == "" {
		missing = append(missing, EnvSupabaseAnonKey)
	}
	return missing
}

// Validate will run validation rules
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SupabaseURL, validation.Required, is.URL),
		validation.Field(&c.SupabaseAnonKey, validation.Required),
		validation.Field(&c.JWKSURL, is.URL),
		validation.Field(&c.AuthRedirectURL, validation.Required, is.URL),
		validation.Field(&c.PasswordResetURL, is.URL),
		validation.Field(&c.AvatarBucket, validation.Required),
		validation.Field(&c.VisitorTTL, validation.Min(time.Minute)),
		validation.Field(&c.ContactRate, validation.Min(0)),
		validation.Field(&c.CSRFSecret, validation.Length(32, 0)),
		validation.Field(&c.CSRFTTL, validation.Min(time.Minute)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	)
}
