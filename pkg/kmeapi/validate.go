package kmeapi

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate はパッケージ共通のバリデータ。
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate はリクエストをstructタグに従って検証する。
func Validate(req any) error {
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError は最初の検証エラーを読みやすい形に変換する。
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", field)
	case "min":
		return fmt.Errorf("%s: must be at least %s", field, e.Param())
	case "max":
		return fmt.Errorf("%s: must not exceed %s", field, e.Param())
	default:
		return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}
