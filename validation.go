package session

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

func validateLogin(email, password string) error {
	if err := validation.Validate(email, validation.Required); err != nil {
		return ErrEmailRequired
	}
	if err := validation.Validate(password, validation.Required); err != nil {
		return ErrPasswordRequired
	}
	return nil
}

// validateRegistration checks the fields in the order a form reports them.
// The email format is left to the identity service.
func validateRegistration(email, password, name string) error {
	if err := validation.Validate(name, validation.Required); err != nil {
		return ErrNameRequired
	}
	if err := validation.Validate(email, validation.Required); err != nil {
		return ErrEmailRequired
	}
	if err := validation.Validate(password,
		validation.Required,
		validation.RuneLength(MinPasswordLength, 0),
	); err != nil {
		return ErrPasswordTooShort
	}
	return nil
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required); err != nil {
		return ErrEmailRequired
	}
	if err := validation.Validate(email, is.Email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateStringEquals returns a rule that passes when the value equals str.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
