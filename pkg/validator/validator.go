package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// langCodePattern accepts ISO 639-1 codes with an optional region, e.g. fr or pt-BR
var langCodePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// CustomValidator implements echo.Validator using go-playground/validator
type CustomValidator struct {
	v *validator.Validate
}

// New creates a new CustomValidator instance
func New() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("langcode", func(fl validator.FieldLevel) bool {
		return langCodePattern.MatchString(fl.Field().String())
	})
	return &CustomValidator{v: v}
}

// Validate performs struct validation
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}
