// ABOUTME: Tagged JSON frames exchanged over the chat websocket
// ABOUTME: Decodes inbound frames into explicit per-type schemas and encodes outbound frames

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/homedecor/support-gateway/internal/store"
)

// Inbound frame types
const (
	FrameJoinChat    = "joinChat"
	FrameLeaveChat   = "leaveChat"
	FrameSendMessage = "sendMessage"
)

// Outbound frame types
const (
	FrameConnected      = "connected"
	FrameJoined         = "joined"
	FrameLeft           = "left"
	FrameAck            = "ack"
	FrameReceiveMessage = "receiveMessage"
	FrameError          = "error"
)

// Error codes carried by error frames
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeForbidden   = "forbidden"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal_error"
)

var (
	// ErrMalformedFrame is returned for payloads that are not a JSON object
	// with a type field.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownFrameType is returned for a well-formed frame of an
	// unsupported type.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrInvalidFrame is returned when a frame fails schema validation.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Inbound is implemented by every decoded client frame.
type Inbound interface {
	FrameType() string
	Validate() error
}

type envelope struct {
	Type string `json:"type"`
}

// JoinChat asks to receive messages of a conversation.
type JoinChat struct {
	RequestID        string `json:"requestId,omitempty"`
	ConversationName string `json:"conversationName"`
}

// FrameType implements Inbound.
func (f *JoinChat) FrameType() string { return FrameJoinChat }

// Validate implements Inbound.
func (f *JoinChat) Validate() error {
	return requireName(f.ConversationName)
}

// LeaveChat stops delivery of a conversation's messages.
type LeaveChat struct {
	RequestID        string `json:"requestId,omitempty"`
	ConversationName string `json:"conversationName"`
}

// FrameType implements Inbound.
func (f *LeaveChat) FrameType() string { return FrameLeaveChat }

// Validate implements Inbound.
func (f *LeaveChat) Validate() error {
	return requireName(f.ConversationName)
}

// SendMessage submits a chat message. SenderID may be omitted, in which case
// the authenticated user is the sender.
type SendMessage struct {
	RequestID        string `json:"requestId,omitempty"`
	SenderID         int64  `json:"senderId,omitempty"`
	ReceiverID       int64  `json:"receiverId"`
	ConversationName string `json:"conversationName"`
	Content          string `json:"content"`
	ClientMessageID  string `json:"clientMessageId,omitempty"`
}

// FrameType implements Inbound.
func (f *SendMessage) FrameType() string { return FrameSendMessage }

// Validate implements Inbound.
func (f *SendMessage) Validate() error {
	if err := requireName(f.ConversationName); err != nil {
		return err
	}
	if f.SenderID < 0 {
		return fmt.Errorf("%w: senderId must be positive", ErrInvalidFrame)
	}
	if f.ReceiverID <= 0 {
		return fmt.Errorf("%w: receiverId is required", ErrInvalidFrame)
	}
	if strings.TrimSpace(f.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidFrame)
	}
	return nil
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: conversationName is required", ErrInvalidFrame)
	}
	return nil
}

// DecodeInbound parses a client frame into its typed schema and validates it.
// The returned frame is non-nil whenever the type is known, even if
// validation failed, so callers can echo its request ID.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var frame Inbound
	switch env.Type {
	case FrameJoinChat:
		frame = &JoinChat{}
	case FrameLeaveChat:
		frame = &LeaveChat{}
	case FrameSendMessage:
		frame = &SendMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := frame.Validate(); err != nil {
		return frame, err
	}
	return frame, nil
}

// RequestID returns the client-supplied correlation ID of a frame.
func RequestID(frame Inbound) string {
	switch f := frame.(type) {
	case *JoinChat:
		return f.RequestID
	case *LeaveChat:
		return f.RequestID
	case *SendMessage:
		return f.RequestID
	}
	return ""
}

// ConnectedFrame greets a freshly upgraded connection.
type ConnectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	UserID       int64  `json:"userId"`
}

// MembershipFrame acknowledges joinChat and leaveChat.
type MembershipFrame struct {
	Type             string `json:"type"`
	RequestID        string `json:"requestId,omitempty"`
	ConversationName string `json:"conversationName"`
}

// AckFrame acknowledges a persisted sendMessage.
type AckFrame struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Message   *store.Message `json:"message"`
}

// ReceiveMessageFrame carries a persisted message to group members.
type ReceiveMessageFrame struct {
	Type             string         `json:"type"`
	ConversationName string         `json:"conversationName"`
	Message          *store.Message `json:"message"`
}

// ErrorFrame reports a failed request.
type ErrorFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// EncodeConnected builds the greeting frame.
func EncodeConnected(connID string, userID int64) ([]byte, error) {
	return json.Marshal(ConnectedFrame{Type: FrameConnected, ConnectionID: connID, UserID: userID})
}

// EncodeMembership builds a joined or left frame.
func EncodeMembership(frameType, requestID, conversationName string) ([]byte, error) {
	return json.Marshal(MembershipFrame{Type: frameType, RequestID: requestID, ConversationName: conversationName})
}

// EncodeAck builds the acknowledgement for a persisted message.
func EncodeAck(requestID string, msg *store.Message) ([]byte, error) {
	return json.Marshal(AckFrame{Type: FrameAck, RequestID: requestID, Message: msg})
}

// EncodeReceiveMessage builds the fan-out frame for a persisted message.
func EncodeReceiveMessage(conversationName string, msg *store.Message) ([]byte, error) {
	return json.Marshal(ReceiveMessageFrame{Type: FrameReceiveMessage, ConversationName: conversationName, Message: msg})
}

// EncodeError builds an error frame.
func EncodeError(requestID, code, message string) ([]byte, error) {
	return json.Marshal(ErrorFrame{Type: FrameError, RequestID: requestID, Code: code, Error: message})
}
