package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/imtaco/stream-liveness/internal/errors"
)

// Error is one failed field in an API response or config error.
type Error struct {
	Field   string `json:"field,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

func (e Error) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// FormatValidationError turns validator failures into one Error per field.
// Any other error, such as a malformed JSON body, becomes a single Error
// without a field.
func FormatValidationError(err error) []Error {
	if err == nil {
		return nil
	}
	verrs, ok := errors.As[validator.ValidationErrors](err)
	if !ok {
		return []Error{{Message: err.Error()}}
	}

	out := make([]Error, 0, len(*verrs))
	for _, e := range *verrs {
		out = append(out, Error{
			Field:   fieldPath(e),
			Tag:     e.Tag(),
			Message: message(e),
		})
	}
	return out
}

// fieldPath drops the root struct name: Config.poll.max_backoff becomes
// poll.max_backoff.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", e.Param())
	case "streamid":
		return "must be 1-128 letters, digits, '.', '_' or '-'"
	case "url":
		return "must be an absolute URL"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "gtefield":
		return fmt.Sprintf("must not be less than %s", e.Param())
	}
	return fmt.Sprintf("failed %q validation", e.Tag())
}
