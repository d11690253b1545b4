package generic

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs the `validate` struct tags on s and reports the first
// failing field as a *ValidationError.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ValidationError{Field: fe.Field(), Message: msg}
	}
	return &ValidationError{Message: err.Error()}
}

// RetryOnConflict runs fn until it succeeds, fails with something other
// than ErrConcurrencyConflict, or attempts run out. The final conflict is
// reported with the number of attempts made.
func RetryOnConflict(ctx context.Context, attempts int, subjectID SubjectID, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	var conflict *ConcurrencyConflictError
	if errors.As(err, &conflict) {
		conflict.Attempts = attempts
		return conflict
	}
	return &ConcurrencyConflictError{SubjectID: subjectID, Attempts: attempts, Cause: err}
}
