package session

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type RegisterUserMessage struct {
	Name            string                           `json:"name"`
	Email           string                           `json:"email"`
	Password        string                           `json:"password"`
	ConfirmPassword string                           `json:"confirm_password"`
	OnResponse      func(resp *RegisterUserResponse) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate checks the confirmation. Field rules are enforced by the manager.
func (e RegisterUserMessage) Validate() error {
	err := validation.Validate(e.ConfirmPassword,
		validation.Required,
		validation.By(ValidateStringEquals(e.Password)),
	)
	if err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

type RegisterUserResponse struct {
	Email   string
	Success bool
}

type RegisterUserHandler struct {
	manager *Manager
}

func NewRegisterUserHandler(manager *Manager) *RegisterUserHandler {
	return &RegisterUserHandler{manager: manager}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if strings.TrimSpace(event.Name) == "" {
		return ErrNameRequired
	}
	if err := event.Validate(); err != nil {
		return err
	}

	ok, err := h.manager.Register(ctx, event.Email, event.Password, event.Name)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{
			Email:   strings.TrimSpace(event.Email),
			Success: ok,
		})
	}
	return nil
}
