// ==============================================================================
// VALIDATOR PACKAGE - pkg/validator/validator.go
// ==============================================================================
package validator

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	// Report wire names (commitmentRoot) rather than Go names (CommitmentRoot).
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		// Format validation errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, describe(e))
			}
			return fmt.Errorf("%s", strings.Join(errMessages, "; "))
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				errs[e.Namespace()] = describe(e)
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func describe(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "hexeven":
		return fmt.Sprintf("%s must be even-length hex", field)
	case "hex32":
		return fmt.Sprintf("%s must be 32 bytes of hex (64 characters)", field)
	case "min":
		if field == "proof" {
			return fmt.Sprintf("%s must decode to at least %d bytes", field, minProofHexChars(e.Param())/2)
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	}
	return fmt.Sprintf("%s failed validation '%s'", field, e.Tag())
}

func minProofHexChars(param string) int {
	var n int
	_, _ = fmt.Sscanf(param, "%d", &n)
	return n
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("hexeven", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s)%2 != 0 {
			return false
		}
		_, err := hex.DecodeString(s)
		return err == nil
	})

	_ = v.validate.RegisterValidation("hex32", func(fl validator.FieldLevel) bool {
		b, err := hex.DecodeString(strings.TrimPrefix(fl.Field().String(), "0x"))
		return err == nil && len(b) == 32
	})
}
