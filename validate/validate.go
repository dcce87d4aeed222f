package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValWithTags pairs a value with the validator tags it must satisfy
type ValWithTags struct {
	Value interface{}
	Tag   string
}

// ValidationMap maps a parameter name to its value and tags
type ValidationMap map[string]ValWithTags

// ErrInvalidInput is returned when caller supplied input fails validation. It is never retryable
// without changing the input.
type ErrInvalidInput struct {
	Parameters []string
	Reasons    []string
}

func (e ErrInvalidInput) Error() string {
	str := "invalid input:\n"
	for i := range e.Parameters {
		str += fmt.Sprintf("    parameter: %s, reason: %s\n", e.Parameters[i], e.Reasons[i])
	}
	return str
}

// WithTag pairs the value with the tag
func WithTag(value interface{}, tag string) ValWithTags {
	return ValWithTags{Value: value, Tag: tag}
}

// NewErrInvalidInput returns an invalid input error for a single parameter
func NewErrInvalidInput(parameter, reason string) ErrInvalidInput {
	return ErrInvalidInput{Parameters: []string{parameter}, Reasons: []string{reason}}
}

// ValidateFields validates every value in the map and returns an ErrInvalidInput describing all
// failures
func ValidateFields(v *validator.Validate, fields ValidationMap) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var params, reasons []string
	for _, name := range names {
		f := fields[name]
		if err := v.Var(f.Value, f.Tag); err != nil {
			params = append(params, name)
			reasons = append(reasons, reasonFor(err))
		}
	}

	if len(params) > 0 {
		return ErrInvalidInput{Parameters: params, Reasons: reasons}
	}
	return nil
}

func reasonFor(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok {
		tags := make([]string, 0, len(errs))
		for _, e := range errs {
			tags = append(tags, e.Tag())
		}
		return "failed " + strings.Join(tags, ",")
	}
	return err.Error()
}
