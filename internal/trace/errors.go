package trace

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationCode categorizes rejected links.
type ValidationCode string

const (
	// CodeEmptyField: a required identifier, source, or timestamp is empty.
	CodeEmptyField ValidationCode = "EMPTY_FIELD"

	// CodeUnknownEntryType: entry type outside memory/audit/reasoning/insight.
	CodeUnknownEntryType ValidationCode = "UNKNOWN_ENTRY_TYPE"

	// CodeUnknownRelationship: relationship outside caused_by/triggered/related_to.
	CodeUnknownRelationship ValidationCode = "UNKNOWN_RELATIONSHIP"

	// CodeSelfLoop: a causal link from an entry to itself.
	CodeSelfLoop ValidationCode = "SELF_LOOP"

	// CodeConfidenceRange: confidence outside [0, 1].
	CodeConfidenceRange ValidationCode = "CONFIDENCE_RANGE"

	// CodeDuplicateEntry: the entry is already linked to the trace.
	CodeDuplicateEntry ValidationCode = "DUPLICATE_ENTRY"

	// CodeCausalOrder: the from entry is later than the to entry.
	CodeCausalOrder ValidationCode = "CAUSAL_ORDER"
)

// ValidationError reports why a link or causal link was rejected.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError returns true if err is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidationCodeOf returns the code of a ValidationError in err's chain, or
// "" when there is none.
func ValidationCodeOf(err error) ValidationCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// newValidator builds the struct validator. Field names in errors use the
// json tag so they match persisted and scenario field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs v on s and converts the first failure to a
// ValidationError.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return fmt.Errorf("validate: %w", err)
	}

	fe := fields[0]
	ve := &ValidationError{Field: fe.Field()}
	switch fe.Tag() {
	case "required":
		ve.Code = CodeEmptyField
		ve.Message = "must not be empty"
	case "oneof":
		if fe.StructField() == "EntryType" {
			ve.Code = CodeUnknownEntryType
		} else {
			ve.Code = CodeUnknownRelationship
		}
		ve.Message = fmt.Sprintf("%q is not one of: %s", fmt.Sprint(fe.Value()), fe.Param())
	case "nefield":
		ve.Code = CodeSelfLoop
		ve.Message = "causal link must join two different entries"
	case "gte", "lte":
		ve.Code = CodeConfidenceRange
		ve.Message = fmt.Sprintf("confidence %v outside [0, 1]", fe.Value())
	default:
		ve.Code = CodeEmptyField
		ve.Message = fmt.Sprintf("failed %s check", fe.Tag())
	}
	return ve
}
