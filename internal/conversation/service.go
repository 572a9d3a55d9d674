// ABOUTME: Conversation service is the single entry point for chat message ingest
// ABOUTME: Persists every message before it is broadcast - the store is the source of truth, fan-out is best effort

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/homedecor/support-gateway/internal/dedupe"
	"github.com/homedecor/support-gateway/internal/metrics"
	"github.com/homedecor/support-gateway/internal/store"
)

const (
	// MaxNameLength caps conversation names, in runes.
	MaxNameLength = 128

	// MaxContentLength caps message content, in runes.
	MaxContentLength = 4000

	defaultBroadcastTimeout = 5 * time.Second
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	ListReceivers(ctx context.Context, user *store.User) ([]*store.User, error)

	FindOrCreateConversation(ctx context.Context, name string, userID, supportID int64) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID int64, limit int) ([]*store.Conversation, error)
	ListConversationsByName(ctx context.Context, name string) ([]*store.Conversation, error)
	FindLatestConversationBetween(ctx context.Context, userID, supportID int64) (*store.Conversation, error)

	AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*store.Message, error)
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error)
}

// Broadcaster delivers a persisted message to the live members of its
// conversation group
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationName string, msg *store.Message) error
}

// Service is the central conversation layer. Messages are recorded first and
// only then handed to the broadcaster.
type Service struct {
	store            ConversationStore
	broadcaster      Broadcaster
	logger           *slog.Logger
	locks            *nameLocks
	dedupe           *dedupe.Cache
	joinPolicy       JoinPolicy
	broadcastTimeout time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithJoinPolicy sets who may join a conversation group.
func WithJoinPolicy(p JoinPolicy) Option {
	return func(s *Service) { s.joinPolicy = p }
}

// WithDedupe enables idempotent retries keyed by client message ID.
func WithDedupe(cache *dedupe.Cache) Option {
	return func(s *Service) { s.dedupe = cache }
}

// WithBroadcastTimeout bounds how long a broadcast may take after persistence.
func WithBroadcastTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.broadcastTimeout = d
		}
	}
}

// New creates a new conversation Service. broadcaster may be nil, in which
// case messages are only persisted.
func New(store ConversationStore, broadcaster Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:            store,
		broadcaster:      broadcaster,
		logger:           logger.With("component", "conversation"),
		locks:            newNameLocks(),
		joinPolicy:       JoinPolicyOpen,
		broadcastTimeout: defaultBroadcastTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestRequest is an inbound chat message
type IngestRequest struct {
	SenderID         int64
	ReceiverID       int64
	ConversationName string
	Content          string

	// ClientMessageID, when set, makes retries of the same message idempotent.
	ClientMessageID string
}

func (r *IngestRequest) validate() (string, error) {
	name := strings.TrimSpace(r.ConversationName)
	switch {
	case r.SenderID <= 0:
		return "", fmt.Errorf("%w: sender id is required", ErrInvalidRequest)
	case r.ReceiverID <= 0:
		return "", fmt.Errorf("%w: receiver id is required", ErrInvalidRequest)
	case r.SenderID == r.ReceiverID:
		return "", fmt.Errorf("%w: sender and receiver must differ", ErrInvalidRequest)
	case name == "":
		return "", fmt.Errorf("%w: conversation name is required", ErrInvalidRequest)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", fmt.Errorf("%w: conversation name exceeds %d characters", ErrInvalidRequest, MaxNameLength)
	case strings.TrimSpace(r.Content) == "":
		return "", fmt.Errorf("%w: content is required", ErrInvalidRequest)
	case utf8.RuneCountInString(r.Content) > MaxContentLength:
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrInvalidRequest, MaxContentLength)
	}
	return name, nil
}

// Ingest validates and persists a chat message, resolving or creating its
// conversation, then broadcasts the stored message to the conversation's
// group. Unknown sender or receiver fails with store.ErrNotFound before
// anything is written. Broadcast failures are logged and never returned.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*store.Message, error) {
	start := time.Now()
	msg, err := s.ingest(ctx, req)
	metrics.RecordIngest(ingestResult(err), time.Since(start))
	return msg, err
}

func (s *Service) ingest(ctx context.Context, req *IngestRequest) (*store.Message, error) {
	name, err := req.validate()
	if err != nil {
		return nil, err
	}

	// Persist and broadcast under one lock per name so fan-out leaves in
	// persistence order.
	unlock := s.locks.lock(name)
	defer unlock()

	if msg := s.lookupDuplicate(ctx, req); msg != nil {
		return msg, nil
	}

	// 1. Resolve both identities before any write
	sender, err := s.store.GetUser(ctx, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("sender %d: %w", req.SenderID, err)
	}
	receiver, err := s.store.GetUser(ctx, req.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("receiver %d: %w", req.ReceiverID, err)
	}

	// 2. Canonical (user, support) ordering
	userID, supportID, err := Participants(sender, receiver)
	if err != nil {
		return nil, err
	}

	// 3. Find or create the conversation
	conv, err := s.store.FindOrCreateConversation(ctx, name, userID, supportID)
	if err != nil {
		return nil, fmt.Errorf("conversation resolution failed: %w", err)
	}

	// 4. Record the message
	msg, err := s.store.AppendMessage(ctx, conv.ID, sender.ID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	if s.dedupe != nil && req.ClientMessageID != "" {
		s.dedupe.Remember(dedupe.Key(req.SenderID, req.ClientMessageID), msg.ID)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"conversation_name", name,
		"message_id", msg.ID,
		"sender_id", sender.ID)

	// 5. Fan out
	s.broadcast(ctx, name, msg)

	return msg, nil
}

// lookupDuplicate returns the stored message for a retried client message.
func (s *Service) lookupDuplicate(ctx context.Context, req *IngestRequest) *store.Message {
	if s.dedupe == nil || req.ClientMessageID == "" {
		return nil
	}
	key := dedupe.Key(req.SenderID, req.ClientMessageID)
	id, ok := s.dedupe.Lookup(key)
	if !ok {
		return nil
	}

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		s.logger.Warn("dedupe entry points at unreadable message", "message_id", id, "error", err)
		s.dedupe.Forget(key)
		return nil
	}

	s.logger.Debug("duplicate client message, returning stored copy",
		"client_message_id", req.ClientMessageID,
		"message_id", id)
	return msg
}

func (s *Service) broadcast(ctx context.Context, name string, msg *store.Message) {
	if s.broadcaster == nil {
		return
	}

	// The message is already durable; a cancelled request must not stop fan-out.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.broadcastTimeout)
	defer cancel()

	if err := s.broadcaster.Broadcast(bctx, name, msg); err != nil {
		s.logger.Warn("broadcast failed",
			"conversation_name", name,
			"message_id", msg.ID,
			"error", err)
	}
}

// Participants returns the canonical (userID, supportID) pair for a message
// between sender and receiver. Exactly one of them must be a support agent.
func Participants(sender, receiver *store.User) (userID, supportID int64, err error) {
	if sender.IsSupport == receiver.IsSupport {
		return 0, 0, fmt.Errorf("%w: users %d and %d", ErrInvalidParticipants, sender.ID, receiver.ID)
	}
	if sender.IsSupport {
		return receiver.ID, sender.ID, nil
	}
	return sender.ID, receiver.ID, nil
}

// GetConversation returns a conversation by ID.
func (s *Service) GetConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// ListMessages returns a conversation's messages in creation order.
// A limit <= 0 returns the whole log.
func (s *Service) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, limit)
}

// ConversationMessages is ListMessages on behalf of a viewer. Only the
// conversation's participants and support agents may read it.
func (s *Service) ConversationMessages(ctx context.Context, viewerID, conversationID int64, limit int) ([]*store.Message, error) {
	viewer, err := s.store.GetUser(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("viewer %d: %w", viewerID, err)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !viewer.IsSupport && !conv.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}
	return s.store.ListMessages(ctx, conversationID, limit)
}

// ListConversations returns the conversations a user takes part in, most
// recently active first.
func (s *Service) ListConversations(ctx context.Context, userID int64, limit int) ([]*store.Conversation, error) {
	return s.store.ListConversationsForUser(ctx, userID, limit)
}

// ListReceivers returns the users the given user may start a chat with.
func (s *Service) ListReceivers(ctx context.Context, userID int64) ([]*store.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}
	return s.store.ListReceivers(ctx, user)
}

// MessagesWithPeer returns the most recently active conversation between a
// user and a peer together with its messages. When the pair never talked,
// the conversation is nil and the message list empty.
func (s *Service) MessagesWithPeer(ctx context.Context, userID, peerID int64) (*store.Conversation, []*store.Message, error) {
	me, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("user %d: %w", userID, err)
	}
	peer, err := s.store.GetUser(ctx, peerID)
	if err != nil {
		return nil, nil, fmt.Errorf("peer %d: %w", peerID, err)
	}

	uid, sid, err := Participants(me, peer)
	if err != nil {
		return nil, nil, err
	}

	conv, err := s.store.FindLatestConversationBetween(ctx, uid, sid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, []*store.Message{}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func ingestResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidParticipants):
		return "invalid"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
