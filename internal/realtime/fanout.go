// ABOUTME: Bridges persisted chat messages to group fan-out
// ABOUTME: Encodes receiveMessage frames once and hands them to a local or relayed publisher

package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/homedecor/support-gateway/internal/store"
)

// Publisher delivers an encoded payload to every member of a group,
// wherever the members are connected.
type Publisher interface {
	Publish(ctx context.Context, key GroupKey, payload []byte) error
}

// Fanout broadcasts persisted messages to their conversation group.
type Fanout struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewFanout creates a Fanout over the given publisher. Pass nil logger for default.
func NewFanout(publisher Publisher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		publisher: publisher,
		logger:    logger.With("component", "fanout"),
	}
}

// Broadcast sends msg as a receiveMessage frame to the conversation's group.
func (f *Fanout) Broadcast(ctx context.Context, conversationName string, msg *store.Message) error {
	payload, err := EncodeReceiveMessage(conversationName, msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	key := ConversationGroup(conversationName)
	if err := f.publisher.Publish(ctx, key, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", key, err)
	}

	f.logger.Debug("message fanned out",
		"group", key.String(),
		"message_id", msg.ID)
	return nil
}
