package web

import (
	"maps"
	"net/http"

	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
)

var providerLabels = map[string]string{
	"google": "Google",
	"github": "GitHub",
}

func (s *Server) render(ctx router.Context, view string, data router.ViewContext) error {
	state := currentVisitor(ctx).Manager.State()
	if data == nil {
		data = router.ViewContext{}
	}
	maps.Copy(data, TemplateHelpersWithRouter(ctx, state))
	data["state"] = state
	return ctx.Render(view, data)
}

func (s *Server) homePage(ctx router.Context) error {
	return s.render(ctx, "index", nil)
}

func (s *Server) loginPage(ctx router.Context) error {
	if currentVisitor(ctx).Manager.State().IsAuthenticated {
		return ctx.Redirect("/profile", http.StatusSeeOther)
	}
	return s.render(ctx, "login", router.ViewContext{
		"error":     ctx.Query("error"),
		"providers": providerLabels,
	})
}

func (s *Server) registerPage(ctx router.Context) error {
	return s.render(ctx, "register", router.ViewContext{
		"min_password": session.MinPasswordLength,
	})
}

func (s *Server) profilePage(ctx router.Context) error {
	manager := currentVisitor(ctx).Manager
	if !manager.State().IsAuthenticated {
		return ctx.Redirect("/login", http.StatusSeeOther)
	}

	draft, err := manager.ProfileDraft(ctx.Context())
	if err != nil {
		return err
	}
	return s.render(ctx, "profile", router.ViewContext{
		"draft":           draft,
		"max_avatar_size": session.MaxAvatarSize,
	})
}
