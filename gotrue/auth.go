package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// ErrMissingCodeVerifier is returned when a provider callback arrives but no
// login was started by this client.
var ErrMissingCodeVerifier = goerrors.New("no pending provider login", goerrors.CategoryBadInput).
	WithTextCode("identity_missing_code_verifier").
	WithCode(goerrors.CodeBadRequest)

// GetSession implements session.IdentityService. A stored session close to
// expiry is refreshed first; a session the service no longer accepts is
// discarded and reported as absent.
func (c *Client) GetSession(ctx context.Context) (*session.RemoteIdentity, error) {
	s, err := c.loadSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	if c.expiresSoon(s) {
		s, err = c.refreshSession(ctx, s.RefreshToken)
		if err != nil {
			if _, ok := session.AsRemoteError(err); ok || errors.Is(err, session.ErrNotAuthenticated) {
				return nil, nil
			}
			return nil, err
		}
	}

	return s.User.Identity(), nil
}

// SignInWithPassword implements session.IdentityService.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.RemoteIdentity, error) {
	var s Session
	err := c.do(ctx, request{
		operation: "sign_in",
		method:    http.MethodPost,
		path:      "/token",
		query:     url.Values{"grant_type": {"password"}},
		body:      map[string]string{"email": email, "password": password},
	}, &s)
	if err != nil {
		return nil, err
	}

	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(session.AuthEventSignedIn, &s)
	return s.User.Identity(), nil
}

// SignUp implements session.IdentityService. The returned session, if the
// service issued one, is not stored.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.RemoteIdentity, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		operation: "sign_up",
		method:    http.MethodPost,
		path:      "/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
	}, &raw)
	if err != nil {
		return nil, err
	}

	var withSession Session
	if err := json.Unmarshal(raw, &withSession); err == nil && withSession.AccessToken != "" {
		return withSession.User.Identity(), nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, &session.TransportError{Service: serviceName, Operation: "sign_up", Err: err}
	}
	return user.Identity(), nil
}

// SignInWithOAuth implements session.IdentityService. It stores a PKCE code
// verifier and returns the authorize URL for provider.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	if err := c.storage.SetItem(ctx, c.verifierKey(), verifier); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store code verifier")
	}

	params := url.Values{
		"provider":              {provider},
		"code_challenge":        {computeCodeChallenge(verifier)},
		"code_challenge_method": {"s256"},
	}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}

	return c.config.URL + "/auth/v1/authorize?" + params.Encode(), nil
}

// ExchangeCodeForSession completes a provider login started with
// SignInWithOAuth.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*session.RemoteIdentity, error) {
	verifier, ok, err := c.storage.GetItem(ctx, c.verifierKey())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read code verifier")
	}
	if !ok || verifier == "" {
		return nil, ErrMissingCodeVerifier
	}

	var s Session
	err = c.do(ctx, request{
		operation: "exchange_code",
		method:    http.MethodPost,
		path:      "/token",
		query:     url.Values{"grant_type": {"pkce"}},
		body:      map[string]string{"auth_code": code, "code_verifier": verifier},
	}, &s)
	if err != nil {
		return nil, err
	}

	if err := c.storage.RemoveItem(ctx, c.verifierKey()); err != nil {
		c.logger.Warn("could not remove code verifier", "error", err)
	}
	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(session.AuthEventSignedIn, &s)
	return s.User.Identity(), nil
}

// SignOut implements session.IdentityService. A token the service already
// considers invalid counts as signed out. On any other failure the session
// is kept.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.loadSession(ctx)
	if err != nil {
		return err
	}

	if s != nil {
		err := c.do(ctx, request{
			operation: "sign_out",
			method:    http.MethodPost,
			path:      "/logout",
			query:     url.Values{"scope": {"global"}},
			token:     s.AccessToken,
		}, nil)
		if err != nil && !alreadySignedOut(err) {
			return err
		}
	}

	if err := c.clearSession(ctx); err != nil {
		return err
	}
	if s != nil {
		c.emit(session.AuthEventSignedOut, nil)
	}
	return nil
}

// UpdateUser implements session.IdentityService.
func (c *Client) UpdateUser(ctx context.Context, attrs session.UserAttributes) (*session.RemoteIdentity, error) {
	gen := c.currentGeneration()
	s, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	err = c.do(ctx, request{
		operation: "update_user",
		method:    http.MethodPut,
		path:      "/user",
		body:      attrs,
		token:     s.AccessToken,
	}, &user)
	if err != nil {
		return nil, err
	}

	s.User = user
	if err := c.saveSessionAt(ctx, s, gen); err != nil {
		return nil, err
	}
	c.emit(session.AuthEventUserUpdated, s)
	return user.Identity(), nil
}

// ResetPasswordForEmail implements session.IdentityService.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, request{
		operation: "recover",
		method:    http.MethodPost,
		path:      "/recover",
		query:     query,
		body:      map[string]string{"email": email},
	}, nil)
}

// activeSession returns a session with a usable access token.
func (c *Client) activeSession(ctx context.Context) (*Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, session.ErrNotAuthenticated
	}
	if c.expiresSoon(s) {
		return c.refreshSession(ctx, s.RefreshToken)
	}
	return s, nil
}

func alreadySignedOut(err error) bool {
	remote, ok := session.AsRemoteError(err)
	if !ok {
		return false
	}
	switch remote.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func (c *Client) verifierKey() string {
	return c.config.StorageKey + "-code-verifier"
}
