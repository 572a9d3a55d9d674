// ABOUTME: Maps domain errors onto chat error codes and HTTP statuses
// ABOUTME: The only place transport-facing error translation happens

package gateway

import (
	"errors"
	"net/http"

	"github.com/homedecor/support-gateway/internal/conversation"
	"github.com/homedecor/support-gateway/internal/mail"
	"github.com/homedecor/support-gateway/internal/realtime"
	"github.com/homedecor/support-gateway/internal/store"
)

// frameError returns the error frame code and client-facing message for err.
// Internal failures are reported without detail.
func frameError(err error) (code, message string) {
	switch {
	case errors.Is(err, realtime.ErrMalformedFrame),
		errors.Is(err, realtime.ErrUnknownFrameType),
		errors.Is(err, realtime.ErrInvalidFrame),
		errors.Is(err, conversation.ErrInvalidRequest),
		errors.Is(err, conversation.ErrInvalidParticipants),
		errors.Is(err, mail.ErrInvalidContact),
		errors.Is(err, errBinaryFrame),
		errors.Is(err, errBadParam):
		return realtime.CodeBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return realtime.CodeNotFound, err.Error()
	case errors.Is(err, conversation.ErrForbidden),
		errors.Is(err, errSenderMismatch):
		return realtime.CodeForbidden, err.Error()
	case errors.Is(err, errRateLimited):
		return realtime.CodeRateLimited, err.Error()
	default:
		return realtime.CodeInternal, "internal server error"
	}
}

// httpStatus maps a frame error code to its HTTP status.
func httpStatus(code string) int {
	switch code {
	case realtime.CodeBadRequest:
		return http.StatusBadRequest
	case realtime.CodeNotFound:
		return http.StatusNotFound
	case realtime.CodeForbidden:
		return http.StatusForbidden
	case realtime.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
