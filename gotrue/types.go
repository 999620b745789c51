package gotrue

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session"
)

// Session is the token set returned by the identity service. It is stored
// as JSON under Config.StorageKey.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// User is the identity record of the service.
type User struct {
	ID           string                   `json:"id"`
	Email        string                   `json:"email"`
	Role         string                   `json:"role,omitempty"`
	AppMetadata  AppMetadata              `json:"app_metadata"`
	UserMetadata session.IdentityMetadata `json:"user_metadata"`
	CreatedAt    *time.Time               `json:"created_at,omitempty"`
	ConfirmedAt  *time.Time               `json:"confirmed_at,omitempty"`
}

type AppMetadata struct {
	Provider  string   `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// Identity converts u to the shape consumed by the session manager.
func (u User) Identity() *session.RemoteIdentity {
	return &session.RemoteIdentity{
		ID:       u.ID,
		Email:    u.Email,
		Provider: u.AppMetadata.Provider,
		Metadata: u.UserMetadata,
	}
}

// Expiry returns when the access token expires. It falls back to the exp
// claim when the response carried no expiry.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Time{}
}

func (s *Session) valid() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != "" && s.User.ID != ""
}

// stamp fills ExpiresAt from ExpiresIn or the token claims.
func (s *Session) stamp(now time.Time) {
	if s.ExpiresAt > 0 {
		return
	}
	if s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
		return
	}
	if exp := s.Expiry(); !exp.IsZero() {
		s.ExpiresAt = exp.Unix()
	}
}

type errorResponse struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
