package contact

import goerrors "github.com/goliatone/go-errors"

const (
	TextCodeInvalidPhone = "contact_invalid_phone"
	TextCodeRateLimited  = "contact_rate_limited"
	TextCodeInvalidForm  = "contact_invalid_form"
)

var ErrInvalidPhone = goerrors.New("whatsapp number is not valid", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPhone).
	WithCode(goerrors.CodeBadRequest)

// ErrRateLimited is returned when a sender exceeds the submission rate.
var ErrRateLimited = goerrors.New("too many contact requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(goerrors.CodeTooManyRequests)
