package contact

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

const (
	// DefaultRegion is used to parse numbers typed without a country code.
	DefaultRegion = "BR"
	// MaxMessageLength bounds the message body in runes.
	MaxMessageLength = 2000
)

// Form is the contact request as typed by the visitor.
type Form struct {
	Name     string `json:"name" form:"name"`
	Company  string `json:"company" form:"company"`
	Email    string `json:"email" form:"email"`
	WhatsApp string `json:"whatsapp" form:"whatsapp"`
	Message  string `json:"message" form:"message"`
}

// Validate will run validation rules
func (f Form) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required, validation.By(notBlank)),
		validation.Field(&f.Email, validation.Required, is.Email),
		validation.Field(&f.WhatsApp, validation.Required, validation.By(brazilianPhone)),
		validation.Field(&f.Message,
			validation.Required,
			validation.By(notBlank),
			validation.RuneLength(1, MaxMessageLength),
		),
	)
}

// E164 returns the WhatsApp number in international format.
func (f Form) E164() (string, error) {
	num, err := phonenumbers.Parse(f.WhatsApp, DefaultRegion)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "whatsapp number could not be parsed").
			WithTextCode(TextCodeInvalidPhone).
			WithCode(goerrors.CodeBadRequest)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func brazilianPhone(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := (Form{WhatsApp: s}).E164(); err != nil {
		return errors.New("must be a valid phone number")
	}
	return nil
}
