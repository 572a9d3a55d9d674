// ABOUTME: Sentinel errors returned by the conversation service
// ABOUTME: Transports map these onto frame codes and HTTP statuses

package conversation

import "errors"

var (
	// ErrInvalidRequest is returned when an ingest request fails validation
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParticipants is returned when a message does not pair exactly
	// one end user with one support agent
	ErrInvalidParticipants = errors.New("conversation needs one end user and one support agent")

	// ErrForbidden is returned when a user may not access a conversation
	ErrForbidden = errors.New("forbidden")
)
