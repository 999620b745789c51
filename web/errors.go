package web

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
)

const (
	messageInvalidCredentials = "invalid email or password"
	messageUnreachable        = "could not reach the authentication service, check your connection"
	messageInternal           = "an unexpected error occurred"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// errorStatus maps err to an HTTP status and the body shown to the client.
func errorStatus(err error) (int, ErrorResponse) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorResponse{Error: fiberErr.Message}
	}

	if session.IsTransportError(err) {
		return http.StatusBadGateway, ErrorResponse{Error: messageUnreachable, Code: session.TextCodeTransport}
	}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		status := richErr.Code
		if status < 400 || status > 599 {
			status = categoryStatus(richErr)
		}
		body := ErrorResponse{Error: richErr.Message, Code: richErr.TextCode}
		if errors.Is(err, session.ErrInvalidCredentials) {
			body.Error = messageInvalidCredentials
		}
		if status >= http.StatusInternalServerError {
			if _, remote := session.AsRemoteError(err); remote {
				status = http.StatusBadGateway
			}
			body.Error = messageInternal
		}
		return status, body
	}

	if re, ok := session.AsRemoteError(err); ok {
		status := re.Status
		if status < 400 || status >= 500 || status == http.StatusUnauthorized {
			status = http.StatusBadGateway
		}
		msg := re.Message
		if msg == "" {
			msg = http.StatusText(re.Status)
		}
		return status, ErrorResponse{Error: msg, Code: session.TextCodeRemoteService}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: messageInternal}
}

func categoryStatus(richErr *goerrors.Error) int {
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// handleError writes err as JSON and logs server side failures.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(body)
}
