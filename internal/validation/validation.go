// Package validation cleans and checks the sender details collected during checkout.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	FieldName  = "name"
	FieldPhone = "phone"
	FieldEmail = "email"
)

var (
	phoneCharset    = regexp.MustCompile(`^[0-9\s\-+()]+$`)
	phoneSeparators = regexp.MustCompile(`[\s\-+()]`)
	nonPhoneChars   = regexp.MustCompile(`[^0-9\s\-+()]`)
	angleBrackets   = regexp.MustCompile(`[<>]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is keyed by field so that fixing one field leaves the
// other fields' errors in place.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Has(field string) bool {
	_, ok := ve.Get(field)
	return ok
}

func (ve ValidationErrors) Get(field string) (string, bool) {
	for _, e := range ve {
		if e.Field == field {
			return e.Message, true
		}
	}
	return "", false
}

// Without returns a copy with the given field's error removed.
func (ve ValidationErrors) Without(field string) ValidationErrors {
	out := make(ValidationErrors, 0, len(ve))
	for _, e := range ve {
		if e.Field != field {
			out = append(out, e)
		}
	}
	return out
}

// ValidateSenderInfo checks name, phone and email and returns at most one error per field.
func ValidateSenderInfo(name, phone, email string) ValidationErrors {
	var errs ValidationErrors

	trimmedName := strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(trimmedName); {
	case n == 0:
		errs = append(errs, ValidationError{Field: FieldName, Message: "Name is required"})
	case n < 2:
		errs = append(errs, ValidationError{Field: FieldName, Message: "Name must be at least 2 characters"})
	case n > 100:
		errs = append(errs, ValidationError{Field: FieldName, Message: "Name must be less than 100 characters"})
	}

	trimmedPhone := strings.TrimSpace(phone)
	switch {
	case trimmedPhone == "":
		errs = append(errs, ValidationError{Field: FieldPhone, Message: "Phone number is required"})
	case !phoneCharset.MatchString(trimmedPhone):
		errs = append(errs, ValidationError{Field: FieldPhone, Message: "Phone number can only contain numbers, spaces, and +()-"})
	case len(phoneSeparators.ReplaceAllString(trimmedPhone, "")) < 10:
		errs = append(errs, ValidationError{Field: FieldPhone, Message: "Phone number must be at least 10 digits"})
	}

	trimmedEmail := strings.TrimSpace(email)
	switch {
	case trimmedEmail == "":
		errs = append(errs, ValidationError{Field: FieldEmail, Message: "Email is required"})
	case !emailPattern.MatchString(trimmedEmail):
		errs = append(errs, ValidationError{Field: FieldEmail, Message: "Please enter a valid email address"})
	}

	return errs
}

// SanitizeName strips angle brackets and collapses whitespace.
func SanitizeName(name string) string {
	name = angleBrackets.ReplaceAllString(strings.TrimSpace(name), "")
	return whitespaceRun.ReplaceAllString(name, " ")
}

// SanitizePhone keeps digits, spaces and +()- only.
func SanitizePhone(phone string) string {
	return nonPhoneChars.ReplaceAllString(strings.TrimSpace(phone), "")
}

func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
