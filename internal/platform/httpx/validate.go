package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the process-wide validator with the custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			if fl.Field().String() == "" {
				return true
			}
			_, err := money.ParseCurrency(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
			if fl.Field().String() == "" {
				return true
			}
			_, err := money.Parse(fl.Field().String(), money.INR)
			return err == nil
		})
	})
	return validate
}

// Validate runs struct validation and folds failures into one validation error.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.Validation("request.invalid", "%v", err)
	}
	out := shared.Validation("request.invalid", "request validation failed")
	for _, fe := range verrs {
		out.Violations = append(out.Violations, describe(fe))
	}
	out.Message = strings.Join(out.Violations, "; ")
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "currency":
		return fmt.Sprintf("%s must be an ISO 4217 currency code", fe.Field())
	case "decimal":
		return fmt.Sprintf("%s must be a decimal number", fe.Field())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
