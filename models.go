package session

import "time"

// User is the normalized profile shown to the presentation layer.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Valid reports whether u can back an authenticated session.
func (u *User) Valid() bool {
	return u != nil && u.ID != "" && u.Email != ""
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// SessionState is the observable authentication state. IsAuthenticated
// implies User is non nil and valid.
type SessionState struct {
	User            *User `json:"user"`
	IsAuthenticated bool  `json:"isAuthenticated"`
	IsLoading       bool  `json:"isLoading"`
}

// RemoteIdentity is an identity record as the identity service reports it.
type RemoteIdentity struct {
	ID       string           `json:"id"`
	Email    string           `json:"email"`
	Provider string           `json:"provider,omitempty"`
	Metadata IdentityMetadata `json:"user_metadata"`
}

// IdentityMetadata lists the metadata fields read during normalization.
// Different providers fill different subsets.
type IdentityMetadata struct {
	FullName          string `json:"full_name,omitempty"`
	Name              string `json:"name,omitempty"`
	UserName          string `json:"user_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
	Picture           string `json:"picture,omitempty"`
}

// AuthEventType names identity service state changes.
type AuthEventType string

const (
	AuthEventInitialSession   AuthEventType = "INITIAL_SESSION"
	AuthEventSignedIn         AuthEventType = "SIGNED_IN"
	AuthEventSignedOut        AuthEventType = "SIGNED_OUT"
	AuthEventTokenRefreshed   AuthEventType = "TOKEN_REFRESHED"
	AuthEventUserUpdated      AuthEventType = "USER_UPDATED"
	AuthEventPasswordRecovery AuthEventType = "PASSWORD_RECOVERY"
)

// AuthChangeEvent is delivered to OnAuthStateChange listeners. Identity is
// nil when the session ended.
type AuthChangeEvent struct {
	Type     AuthEventType
	Identity *RemoteIdentity
}

// ProfileDraft is an unsaved profile edit. It is a cache, never the source
// of truth.
type ProfileDraft struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfileUpdate carries the fields to change. Nil fields are left as is.
type ProfileUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Email  *string `json:"email,omitempty"`
}
