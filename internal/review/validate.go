package review

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func entryValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
			panic(err)
		}
	})
	return validate
}

// ValidateErrors checks every entry of a classification batch. The first
// failing entry rejects the whole batch.
func ValidateErrors(errs []model.OperationError) error {
	v := entryValidator()
	for i, e := range errs {
		err := v.Struct(e)
		if err == nil {
			continue
		}
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) || len(ve) == 0 {
			return apperr.Validation(fmt.Sprintf("Error %d is invalid.", i+1))
		}
		return apperr.Validation(fmt.Sprintf("Error %d: %s", i+1, describe(ve[0])))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch {
	case fe.Field() == "Description" && fe.Tag() == "notblank":
		return "description is required."
	case fe.Field() == "Description" && fe.Tag() == "max":
		return fmt.Sprintf("description must be at most %d characters.", model.MaxErrorDescription)
	case fe.Field() == "Type":
		names := make([]string, 0, len(model.ErrorTypes))
		for _, t := range model.ErrorTypes {
			names = append(names, string(t))
		}
		return "type must be one of " + strings.Join(names, ", ") + "."
	}
	return fmt.Sprintf("%s failed %s.", strings.ToLower(fe.Field()), fe.Tag())
}
