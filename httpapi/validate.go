package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// validationError maps JSON field names to translated messages. It wraps
// authlab.ErrMalformedInput.
type validationError map[string]string

func (v validationError) Error() string {
	b, err := json.Marshal(map[string]string(v))
	if err != nil {
		return "validation error"
	}
	return string(b)
}

func (v validationError) Unwrap() error { return authlab.ErrMalformedInput }

type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newRequestValidator() (*requestValidator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, errors.New("httpapi: english translator not found")
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("httpapi: register translations: %w", err)
	}
	return &requestValidator{validate: validate, translator: trans}, nil
}

// Struct validates req. Failures are returned as validationError.
func (v *requestValidator) Struct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", authlab.ErrMalformedInput, err)
	}
	out := make(validationError, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}
