package session

import (
	"net/url"
	"strings"
)

// DefaultDisplayName is used when neither metadata nor email yield a name.
const DefaultDisplayName = "Usuário"

const placeholderAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// PlaceholderAvatar returns the generated avatar URL seeded by email.
func PlaceholderAvatar(email string) string {
	return placeholderAvatarBase + url.QueryEscape(email)
}

// IsPlaceholderAvatar reports whether avatar is a generated placeholder.
func IsPlaceholderAvatar(avatar string) bool {
	return strings.HasPrefix(avatar, placeholderAvatarBase)
}

// Normalize maps a remote identity to a User. Metadata fields are tried in
// a fixed order and blank values are skipped.
func Normalize(identity RemoteIdentity) User {
	md := identity.Metadata
	return User{
		ID:    identity.ID,
		Email: identity.Email,
		Name: firstNonBlank(
			md.FullName,
			md.Name,
			md.UserName,
			md.PreferredUsername,
			emailLocalPart(identity.Email),
			DefaultDisplayName,
		),
		Avatar: firstNonBlank(
			md.AvatarURL,
			md.Picture,
			PlaceholderAvatar(identity.Email),
		),
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
