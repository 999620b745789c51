package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials     = "session_invalid_credentials"
	TextCodeNotAuthenticated       = "session_not_authenticated"
	TextCodeBusy                   = "session_busy"
	TextCodeClosed                 = "session_closed"
	TextCodeEmailRequired          = "session_email_required"
	TextCodePasswordRequired       = "session_password_required"
	TextCodeNameRequired           = "session_name_required"
	TextCodePasswordTooShort       = "session_password_too_short"
	TextCodePasswordMismatch       = "session_password_mismatch"
	TextCodeEmailImmutable         = "session_email_immutable"
	TextCodeEmptyProfileUpdate     = "session_empty_profile_update"
	TextCodeProviderNotSupported   = "session_provider_not_supported"
	TextCodeAvatarMissing          = "avatar_missing"
	TextCodeAvatarTooLarge         = "avatar_too_large"
	TextCodeAvatarNotImage         = "avatar_not_image"
	TextCodeEmailAlreadyRegistered = "register_email_exists"
	TextCodeInvalidEmail           = "register_invalid_email"
	TextCodeWeakPassword           = "register_weak_password"
	TextCodeRegistrationFailed     = "register_failed"
	TextCodeRemoteService          = "remote_service_error"
	TextCodeTransport              = "remote_unreachable"
)

// ErrInvalidCredentials is never returned by Manager.Login, which reports a
// rejected credential pair as (false, nil). Adapters use it to render the
// generic login failure.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotAuthenticated is returned by operations that need a signed in user.
var ErrNotAuthenticated = goerrors.New("no authenticated session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrBusy is returned when another state changing operation is in flight.
var ErrBusy = goerrors.New("another session operation is in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeBusy).
	WithCode(goerrors.CodeConflict)

// ErrManagerClosed is returned after the manager was torn down.
var ErrManagerClosed = goerrors.New("session manager closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeClosed).
	WithCode(goerrors.CodeInternal)

var ErrEmailRequired = goerrors.New("email is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmailRequired).
	WithCode(goerrors.CodeBadRequest)

var ErrPasswordRequired = goerrors.New("password is required", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordRequired).
	WithCode(goerrors.CodeBadRequest)

var ErrNameRequired = goerrors.New("name is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeNameRequired).
	WithCode(goerrors.CodeBadRequest)

var ErrPasswordTooShort = goerrors.New("password must have at least 6 characters", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooShort).
	WithCode(goerrors.CodeBadRequest)

var ErrPasswordMismatch = goerrors.New("password confirmation does not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailImmutable is returned when a profile update tries to change the email.
var ErrEmailImmutable = goerrors.New("email cannot be changed", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmailImmutable).
	WithCode(goerrors.CodeBadRequest)

var ErrEmptyProfileUpdate = goerrors.New("profile update has no fields", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmptyProfileUpdate).
	WithCode(goerrors.CodeBadRequest)

var ErrProviderNotSupported = goerrors.New("identity provider not supported", goerrors.CategoryBadInput).
	WithTextCode(TextCodeProviderNotSupported).
	WithCode(goerrors.CodeBadRequest)

var ErrAvatarMissing = goerrors.New("no avatar file selected", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarMissing).
	WithCode(goerrors.CodeBadRequest)

var ErrAvatarTooLarge = goerrors.New("avatar exceeds 2MB", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarTooLarge).
	WithCode(goerrors.CodeBadRequest)

var ErrAvatarNotImage = goerrors.New("avatar must be an image", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarNotImage).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailAlreadyRegistered wraps a remote sign up rejection for a known email.
var ErrEmailAlreadyRegistered = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

var ErrInvalidEmail = goerrors.New("invalid email", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

var ErrWeakPassword = goerrors.New("password rejected by identity service", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrRegistrationFailed = goerrors.New("registration failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeRegistrationFailed).
	WithCode(goerrors.CodeInternal)

// RemoteError is a normalized failure reported by the identity or storage
// service in its response body.
type RemoteError struct {
	Service   string
	Operation string
	Status    int
	Code      string
	Message   string
	Raw       []byte
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed (%d %s): %s", e.Service, e.Operation, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s %s failed (%d): %s", e.Service, e.Operation, e.Status, msg)
}

// Metadata returns structured details for logging.
func (e *RemoteError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"service":   e.Service,
		"operation": e.Operation,
		"status":    e.Status,
		"code":      e.Code,
	}
}

// TransportError reports that a remote service could not be reached or
// returned something that could not be decoded.
type TransportError struct {
	Service   string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: transport failure", e.Service, e.Operation)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransportError reports whether err was caused by connectivity.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsRemoteError extracts the remote failure from err, if any.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsValidationError reports whether err is a local input validation failure.
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation ||
		richErr.Category == goerrors.CategoryBadInput
}

// ErrorKind names the taxonomy bucket of err. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTransportError(err):
		return "transport"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case IsValidationError(err):
		return "validation"
	}
	if _, ok := AsRemoteError(err); ok {
		return "remote"
	}
	return "internal"
}

func isInvalidCredentials(err error) bool {
	re, ok := AsRemoteError(err)
	if !ok {
		return false
	}
	switch re.Code {
	case "invalid_credentials", "invalid_grant":
		return true
	}
	return re.Status == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(re.Message), "invalid login credentials")
}

// classifySignUpError maps a remote sign up rejection to a typed error. The
// remote error stays reachable through errors.As.
func classifySignUpError(err error) error {
	re, ok := AsRemoteError(err)
	if !ok {
		return err
	}

	msg := strings.ToLower(re.Message)
	switch {
	case re.Code == "user_already_exists" || re.Code == "email_exists" ||
		strings.Contains(msg, "already registered"):
		return fmt.Errorf("%w: %w", ErrEmailAlreadyRegistered, err)
	case re.Code == "email_address_invalid" || re.Code == "validation_failed" && strings.Contains(msg, "email") ||
		strings.Contains(msg, "invalid email"):
		return fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	case re.Code == "weak_password" || strings.Contains(msg, "password"):
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
}
