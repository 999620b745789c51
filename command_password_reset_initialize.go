package session

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email      string                                      `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse) `json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	Email   string
	Success bool
}

type InitializePasswordResetHandler struct {
	manager *Manager
	logger  Logger
}

func NewInitializePasswordResetHandler(manager *Manager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{manager: manager, logger: manager.logger}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

// execute answers with the same response whether or not the account exists.
// Only local validation errors are returned to the caller.
func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.manager.ResetPassword(ctx, event.Email)
	if err != nil {
		if IsValidationError(err) {
			return err
		}
		h.logger.Warn("password reset request not delivered", "error", err)
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{
			Email:   event.Email,
			Success: true,
		})
	}
	return nil
}
