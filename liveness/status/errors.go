package status

import (
	"context"
	"fmt"

	"github.com/imtaco/stream-liveness/internal/errors"
)

const (
	ErrUnreachable      errors.Code = "unreachable"
	ErrBadResponse      errors.Code = "bad_response"
	ErrMalformedPayload errors.Code = "malformed_payload"
)

// HTTPStatusError carries the status code of a non-2xx reply.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.StatusCode)
}

// Kind maps err onto a short stable label for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if code, ok := errors.CodeOf(err); ok {
		return string(code)
	}
	return "other"
}
