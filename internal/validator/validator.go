package validator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/go-playground/validator/v10"
)

var shareTokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Custom validators
	v.RegisterValidation("column_type", validateColumnType)
	v.RegisterValidation("permission_code", validatePermissionCode)
	v.RegisterValidation("share_token", validateShareToken)
	v.RegisterValidation("not_blank", validateNotBlank)

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

// IsEmail reports whether s is a syntactically valid e-mail address.
func (v *Validator) IsEmail(s string) bool {
	return v.validate.Var(s, "required,email") == nil
}

// IsURL reports whether s is an absolute URL with a scheme and host.
func (v *Validator) IsURL(s string) bool {
	return v.validate.Var(s, "required,http_url") == nil
}

// FieldErrors flattens a validation failure into field name -> failed tag.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func validateColumnType(fl validator.FieldLevel) bool {
	_, err := model.ParseColumnType(fl.Field().String())
	return err == nil
}

func validatePermissionCode(fl validator.FieldLevel) bool {
	_, err := model.ParsePermissionType(fl.Field().String())
	return err == nil
}

func validateShareToken(fl validator.FieldLevel) bool {
	return shareTokenPattern.MatchString(fl.Field().String())
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
