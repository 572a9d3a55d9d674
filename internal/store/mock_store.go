// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database while keeping find-or-create semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type conversationKey struct {
	name      string
	userID    int64
	supportID int64
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[int64]*User
	conversations map[int64]*Conversation
	convIndex     map[conversationKey]int64
	messages      map[int64][]*Message // keyed by conversation ID
	messageByID   map[int64]*Message
	nextUserID    int64
	nextConvID    int64
	nextMsgID     int64

	// AppendErr, when set, is returned by AppendMessage
	AppendErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[int64]*User),
		conversations: make(map[int64]*Conversation),
		convIndex:     make(map[conversationKey]int64),
		messages:      make(map[int64][]*Message),
		messageByID:   make(map[int64]*Message),
	}
}

// CreateUser stores a user. A zero ID is assigned the next free ID.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email != "" && u.Email == user.Email {
			return ErrDuplicateUser
		}
	}
	if user.ID == 0 {
		m.nextUserID++
		user.ID = m.nextUserID
	} else if user.ID > m.nextUserID {
		m.nextUserID = user.ID
	}
	if _, exists := m.users[user.ID]; exists {
		return ErrDuplicateUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// ListUsers returns all users ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListReceivers mirrors SQLStore.ListReceivers.
func (m *MockStore) ListReceivers(ctx context.Context, user *User) ([]*User, error) {
	all, _ := m.ListUsers(ctx)
	want := !user.IsSupport

	result := make([]*User, 0)
	for _, u := range all {
		if u.ID != user.ID && u.IsSupport == want && u.IsAdmin == want {
			result = append(result, u)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// FindOrCreateConversation returns the conversation for the triple, creating it if absent.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, name string, userID, supportID int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationKey{name: name, userID: userID, supportID: supportID}
	if id, ok := m.convIndex[key]; ok {
		c := *m.conversations[id]
		return &c, nil
	}

	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := m.users[supportID]; !ok {
		return nil, ErrNotFound
	}

	m.nextConvID++
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        m.nextConvID,
		Name:      name,
		UserID:    userID,
		SupportID: supportID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	m.convIndex[key] = conv.ID

	c := *conv
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversationsForUser returns conversations where userID is a party, newest first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID int64, limit int) ([]*Conversation, error) {
	result := m.filterConversations(func(c *Conversation) bool { return c.HasParticipant(userID) })
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListConversationsByName returns conversations with the given name.
func (m *MockStore) ListConversationsByName(ctx context.Context, name string) ([]*Conversation, error) {
	result := m.filterConversations(func(c *Conversation) bool { return c.Name == name })
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindLatestConversationBetween returns the newest conversation for the pair.
func (m *MockStore) FindLatestConversationBetween(ctx context.Context, userID, supportID int64) (*Conversation, error) {
	convs, _ := m.ListConversationsForUser(ctx, userID, 0)
	for _, c := range convs {
		if c.UserID == userID && c.SupportID == supportID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) filterConversations(keep func(*Conversation) bool) []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0)
	for _, c := range m.conversations {
		if keep(c) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result
}

// AppendMessage stores a message and returns it with the sender attached.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	sender, ok := m.users[senderID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	conv.UpdatedAt = now

	m.nextMsgID++
	msg := &Message{
		ID:             m.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	m.messageByID[msg.ID] = msg

	return copyMessage(msg, sender), nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg, m.users[msg.SenderID]), nil
}

// ListMessages returns messages in insertion order; limit > 0 keeps the most recent.
func (m *MockStore) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, copyMessage(msg, m.users[msg.SenderID]))
	}
	return result, nil
}

// MessageCount returns the number of stored messages across all conversations.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messageByID)
}

// ConversationCount returns the number of stored conversations.
func (m *MockStore) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copyMessage(msg *Message, sender *User) *Message {
	c := *msg
	if sender != nil {
		s := *sender
		c.Sender = &s
	}
	return &c
}
