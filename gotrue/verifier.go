package gotrue

import (
	"context"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// TokenVerifier checks the signature of an access token. Expiry is not
// checked; expired tokens are refreshed instead of rejected.
type TokenVerifier interface {
	Verify(token string) error
}

// HMACVerifier verifies tokens signed with the project JWT secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (v *HMACVerifier) Verify(token string) error {
	_, err := v.parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryAuth, "access token signature invalid")
	}
	return nil
}

// JWKSVerifier verifies tokens against the keys published by the identity
// service. Keys are refreshed in the background until Close.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

// NewJWKSVerifier fetches the key set at jwksURL.
func NewJWKSVerifier(ctx context.Context, jwksURL string, client *http.Client, logger session.Logger) (*JWKSVerifier, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:    ctx,
		Client: client,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to refresh JWKS", "url", jwksURL, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load JWKS")
	}

	return &JWKSVerifier{
		jwks: jwks,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "ES256"}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (v *JWKSVerifier) Verify(token string) error {
	_, err := v.parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, v.jwks.Keyfunc)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryAuth, "access token signature invalid")
	}
	return nil
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
