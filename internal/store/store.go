// ABOUTME: Store interface and data types for support-gateway persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation with the same
// (name, user_id, support_id) triple already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateUser is returned when a user with the same email already exists
var ErrDuplicateUser = errors.New("user already exists")

// User is an identity known to the gateway. Users are owned by the
// storefront's user management; the gateway only reads them, except for
// operator bootstrap through the CLI.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsSupport bool      `json:"isSupport"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation pairs one end user with one support agent under a name.
// UserID is always the non-support party and SupportID the support party.
type Conversation struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UserID    int64     `json:"userId"`
	SupportID int64     `json:"supportId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is either party of the conversation.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.UserID == userID || c.SupportID == userID
}

// Message is an immutable chat line inside a conversation.
// Sender carries the display attributes of SenderID when the message was
// loaded through AppendMessage, GetMessage or ListMessages.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Sender         *User     `json:"sender,omitempty"`
}

// Store defines the persistence operations of the gateway
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	ListReceivers(ctx context.Context, user *User) ([]*User, error)

	// Conversations
	FindOrCreateConversation(ctx context.Context, name string, userID, supportID int64) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID int64, limit int) ([]*Conversation, error)
	ListConversationsByName(ctx context.Context, name string) ([]*Conversation, error)
	FindLatestConversationBetween(ctx context.Context, userID, supportID int64) (*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
