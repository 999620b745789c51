package web

import (
	"maps"
	"strings"
	"unicode"

	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/contact"
)

var TemplateUserKey = "current_user"

// TemplateHelpers returns the functions made available to every page.
//
// In templates:
//
//	{% if is_authenticated(current_user) %}
//	{{ display_name(current_user) }}
//	<span class="avatar">{{ initials(current_user) }}</span>
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"display_name":     displayName,
		"avatar_url":       avatarURL,
		"initials":         initials,
		"format_whatsapp":  contact.FormatWhatsApp,
	}
}

// TemplateHelpersWithState returns the helpers plus the user of state under
// TemplateUserKey.
func TemplateHelpersWithState(state session.SessionState) map[string]any {
	helpers := TemplateHelpers()
	if state.IsAuthenticated {
		helpers[TemplateUserKey] = state.User
	} else {
		helpers[TemplateUserKey] = nil
	}
	return helpers
}

// TemplateHelpersWithRouter adds the CSRF helpers of the current request to
// TemplateHelpersWithState.
func TemplateHelpersWithRouter(ctx router.Context, state session.SessionState) map[string]any {
	helpers := TemplateHelpersWithState(state)
	maps.Copy(helpers, CSRFTemplateHelpers(csrfToken(ctx)))
	return helpers
}

func templateUser(v any) *session.User {
	switch u := v.(type) {
	case *session.User:
		return u
	case session.User:
		return &u
	default:
		return nil
	}
}

func isAuthenticated(v any) bool {
	return templateUser(v).Valid()
}

func displayName(v any) string {
	user := templateUser(v)
	if user == nil {
		return ""
	}
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}
	return session.DefaultDisplayName
}

func avatarURL(v any) string {
	user := templateUser(v)
	if user == nil {
		return ""
	}
	if user.Avatar != "" {
		return user.Avatar
	}
	return session.PlaceholderAvatar(user.Email)
}

// initials returns up to two upper case letters of the display name.
func initials(v any) string {
	var out []rune
	for _, word := range strings.Fields(displayName(v)) {
		r := []rune(word)[0]
		if !unicode.IsLetter(r) {
			continue
		}
		out = append(out, unicode.ToUpper(r))
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}
