package auth

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	domain "quizportal/backend/internal/domain/auth"

	"github.com/go-playground/validator/v10"
)

const (
	minPasswordLength = 8
	// bcrypt rejects longer input outright.
	maxPasswordBytes = 72
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs struct tag validation and reports the first failure as a
// domain validation error.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	return domain.NewValidationError(fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

// ValidatePassword enforces the password policy: between eight characters and
// 72 bytes, with a lowercase letter, an uppercase letter, a digit and a special
// character.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return domain.NewValidationError("password", "must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return domain.NewValidationError("password", "must be at most 72 bytes")
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return domain.NewValidationError("password",
			"must contain an uppercase letter, a lowercase letter, a number and a special character")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
