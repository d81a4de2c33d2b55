// Package leadform validates and normalizes incoming lead submissions.
//
// Validation collects one message per failing field, in declaration order,
// with user-facing Russian messages. A submission that passes is safe to hand
// to the CRM client: name and phone are present and well formed, optional
// fields are normalized to empty strings.
package leadform

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Submission is a lead as received from the website form.
type Submission struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"required,min=10,phone_chars,phone_digits"`
	Address     string `json:"address" validate:"omitempty,min=5,max=500"`
	Description string `json:"description" validate:"omitempty,max=1000"`
}

// FieldError is a single user-facing validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// phoneCharsRe accepts digits and the common separators people type into
// phone fields. Digit-count bounds are checked separately so the two
// failure modes get distinct messages.
var phoneCharsRe = regexp.MustCompile(`^[\d\s\-\+\(\)]+$`)

var nonDigitRe = regexp.MustCompile(`\D`)

func validatePhoneChars(fl validator.FieldLevel) bool {
	return phoneCharsRe.MatchString(fl.Field().String())
}

func validatePhoneDigits(fl validator.FieldLevel) bool {
	n := len(nonDigitRe.ReplaceAllString(fl.Field().String(), ""))
	return n >= 10 && n <= 15
}

// messages maps json field name and failed rule to the user-facing text.
// The validator stops at the first failing rule per field, so each field
// contributes at most one message.
var messages = map[string]map[string]string{
	"name": {
		"required": "Имя должно содержать минимум 2 символа",
		"min":      "Имя должно содержать минимум 2 символа",
		"max":      "Имя слишком длинное",
	},
	"phoneNumber": {
		"required":     "Номер телефона слишком короткий",
		"min":          "Номер телефона слишком короткий",
		"phone_chars":  "Номер может содержать только цифры, пробелы и символы +-()",
		"phone_digits": "Номер должен содержать от 10 до 15 цифр",
	},
	"address": {
		"min": "Адрес должен содержать минимум 5 символов",
		"max": "Адрес слишком длинный",
	},
	"description": {
		"max": "Описание слишком длинное",
	},
}

// Validator checks Submissions.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds the submission validator with the phone rules
// registered and json tag names used in error reporting.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("phone_chars", validatePhoneChars)
	v.RegisterValidation("phone_digits", validatePhoneDigits)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Validate reports all field failures, or nil if s is valid.
func (va *Validator) Validate(s *Submission) []FieldError {
	err := va.v.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// only reachable with a non-struct argument
		return []FieldError{{Field: "", Message: "Неверные данные формы"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		msg := messages[field][fe.Tag()]
		if msg == "" {
			msg = "Неверное значение поля"
		}
		out = append(out, FieldError{Field: field, Message: msg})
	}
	return out
}
