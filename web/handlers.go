package web

import (
	"errors"
	"mime/multipart"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/contact"
)

// LoginPayload is the body of POST /api/auth/login.
type LoginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// ProfilePayload is the body of PATCH /api/profile. Absent fields are left
// unchanged.
type ProfilePayload struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
	Email  *string `json:"email"`
}

// DraftPayload is the body of PUT /api/profile/draft.
type DraftPayload struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

var errMalformedBody = goerrors.New("request body could not be parsed", goerrors.CategoryBadInput).
	WithTextCode("request_malformed").
	WithCode(goerrors.CodeBadRequest)

func bind(ctx router.Context, out any) error {
	if err := ctx.Bind(out); err != nil {
		return errMalformedBody
	}
	return nil
}

func (s *Server) sessionState(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, currentVisitor(ctx).Manager.State())
}

// csrfState hands the current token to script clients.
func (s *Server) csrfState(ctx router.Context) error {
	ctx.SetHeader("Cache-Control", "no-store, max-age=0")
	return ctx.JSON(http.StatusOK, map[string]string{
		"token":       csrfToken(ctx),
		"field_name":  CSRFFormField,
		"header_name": CSRFHeader,
	})
}

func (s *Server) login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := bind(ctx, payload); err != nil {
		return err
	}

	manager := currentVisitor(ctx).Manager
	ok, err := manager.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}
	if !ok {
		return session.ErrInvalidCredentials
	}
	return ctx.JSON(http.StatusOK, manager.State())
}

func (s *Server) register(ctx router.Context) error {
	msg := session.RegisterUserMessage{}
	if err := bind(ctx, &msg); err != nil {
		return err
	}

	var res *session.RegisterUserResponse
	msg.OnResponse = func(resp *session.RegisterUserResponse) {
		res = resp
	}

	handler := session.NewRegisterUserHandler(currentVisitor(ctx).Manager)
	if err := handler.Execute(ctx.Context(), msg); err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"email":   res.Email,
		"success": res.Success,
	})
}

func (s *Server) logout(ctx router.Context) error {
	manager := currentVisitor(ctx).Manager
	if err := manager.Logout(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, manager.State())
}

func (s *Server) passwordReset(ctx router.Context) error {
	msg := session.InitializePasswordResetMessage{}
	if err := bind(ctx, &msg); err != nil {
		return err
	}

	var res *session.InitializePasswordResetResponse
	msg.OnResponse = func(resp *session.InitializePasswordResetResponse) {
		res = resp
	}

	handler := session.NewInitializePasswordResetHandler(currentVisitor(ctx).Manager)
	if err := handler.Execute(ctx.Context(), msg); err != nil {
		return err
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{"success": res.Success})
}

func (s *Server) providerLogin(ctx router.Context) error {
	target, err := currentVisitor(ctx).Manager.LoginWithProvider(ctx.Context(), ctx.Param("provider"))
	if err != nil {
		return err
	}
	return ctx.Redirect(target, http.StatusSeeOther)
}

// providerCallback completes a provider login. The manager picks the new
// session up from the identity client's sign in notification.
func (s *Server) providerCallback(ctx router.Context) error {
	if reason := ctx.Query("error_description", ctx.Query("error")); reason != "" {
		s.logger.Warn("provider login rejected", "reason", reason)
		return ctx.Redirect("/login?error=provider", http.StatusSeeOther)
	}

	code := ctx.Query("code")
	v := currentVisitor(ctx)
	if code == "" || v.Exchanger == nil {
		return ctx.Redirect("/login?error=provider", http.StatusSeeOther)
	}

	if _, err := v.Exchanger.ExchangeCodeForSession(ctx.Context(), code); err != nil {
		s.logger.Error("provider code exchange failed", "error", err)
		return ctx.Redirect("/login?error=provider", http.StatusSeeOther)
	}
	return ctx.Redirect("/profile", http.StatusSeeOther)
}

func (s *Server) updateProfile(ctx router.Context) error {
	payload := new(ProfilePayload)
	if err := bind(ctx, payload); err != nil {
		return err
	}

	manager := currentVisitor(ctx).Manager
	err := manager.UpdateProfile(ctx.Context(), session.ProfileUpdate{
		Name:   payload.Name,
		Avatar: payload.Avatar,
		Email:  payload.Email,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, manager.State())
}

func (s *Server) getDraft(ctx router.Context) error {
	draft, err := currentVisitor(ctx).Manager.ProfileDraft(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, draft)
}

func (s *Server) saveDraft(ctx router.Context) error {
	payload := new(DraftPayload)
	if err := bind(ctx, payload); err != nil {
		return err
	}

	err := currentVisitor(ctx).Manager.SaveProfileDraft(ctx.Context(), session.ProfileDraft{
		Name:   payload.Name,
		Avatar: payload.Avatar,
	})
	if err != nil {
		return err
	}
	return ctx.Status(http.StatusNoContent).SendString("")
}

func (s *Server) uploadAvatar(ctx router.Context) error {
	var file *session.AvatarFile

	header, err := ctx.FormFile("avatar")
	if err != nil {
		s.logger.Debug("no avatar in request", "error", err)
	} else {
		f, err := header.Open()
		if err != nil {
			return errMalformedBody
		}
		defer f.Close()
		file = avatarFile(header, f)
	}

	url, err := currentVisitor(ctx).Avatars.Upload(ctx.Context(), file)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{"avatar": url})
}

func (s *Server) removeAvatar(ctx router.Context) error {
	url, err := currentVisitor(ctx).Avatars.Remove(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{"avatar": url})
}

func (s *Server) submitContact(ctx router.Context) error {
	form := contact.Form{}
	if err := bind(ctx, &form); err != nil {
		return err
	}

	sub, err := s.contact.Submit(ctx.Context(), ctx.IP(), form)
	if err != nil {
		s.recordContact(err)
		return err
	}
	s.recordContact(nil)

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"received_at": sub.ReceivedAt,
		"whatsapp":    contact.FormatWhatsApp(form.WhatsApp),
	})
}

func (s *Server) recordContact(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.RecordContact("accepted")
	case errors.Is(err, contact.ErrRateLimited):
		s.metrics.RecordContact("rate_limited")
	default:
		s.metrics.RecordContact("rejected")
	}
}

func avatarFile(header *multipart.FileHeader, body multipart.File) *session.AvatarFile {
	return &session.AvatarFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        body,
	}
}
