// ABOUTME: Tests for the conversation service ingest path
// ABOUTME: Covers participant normalization, NotFound without writes, ordering, dedupe and fan-out

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedecor/support-gateway/internal/dedupe"
	"github.com/homedecor/support-gateway/internal/realtime"
	"github.com/homedecor/support-gateway/internal/store"
)

const (
	agentID    = int64(1)
	customerID = int64(42)
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

type broadcastCall struct {
	name string
	msg  *store.Message
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, name string, msg *store.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{name: name, msg: msg})
	return b.err
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.MockStore, *recordingBroadcaster) {
	t.Helper()
	st := store.NewMockStore()
	ctx := t.Context()
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: agentID, Name: "Agent", Email: "agent@example.com", IsSupport: true, IsAdmin: true}))
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: customerID, Name: "Carla", Email: "carla@example.com"}))

	b := &recordingBroadcaster{}
	return New(st, b, nil, opts...), st, b
}

func TestIngest_NormalizesParticipantsRegardlessOfSender(t *testing.T) {
	svc, st, b := newTestService(t)
	ctx := t.Context()

	first, err := svc.Ingest(ctx, &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "Where is my order?",
	})
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, &IngestRequest{
		SenderID: agentID, ReceiverID: customerID, ConversationName: "order-99", Content: "On its way.",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, 1, st.ConversationCount())

	conv, err := st.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, customerID, conv.UserID)
	assert.Equal(t, agentID, conv.SupportID)
	assert.Equal(t, "order-99", conv.Name)

	require.Equal(t, 2, b.count())
	assert.Equal(t, "order-99", b.calls[0].name)
	assert.Equal(t, second.ID, b.calls[1].msg.ID)
	require.NotNil(t, second.Sender)
	assert.True(t, second.Sender.IsSupport)
}

func TestIngest_UnknownSenderWritesNothing(t *testing.T) {
	svc, st, b := newTestService(t)

	_, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: 999, ReceiverID: agentID, ConversationName: "order-99", Content: "hello",
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 0, st.ConversationCount())
	assert.Equal(t, 0, st.MessageCount())
	assert.Equal(t, 0, b.count())
}

func TestIngest_UnknownReceiverWritesNothing(t *testing.T) {
	svc, st, b := newTestService(t)

	_, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: customerID, ReceiverID: 999, ConversationName: "order-99", Content: "hello",
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 0, st.ConversationCount())
	assert.Equal(t, 0, b.count())
}

func TestIngest_RejectsSameSidePairs(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := t.Context()
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: 43, Name: "Other", Email: "other@example.com"}))
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: 2, Name: "Agent Two", Email: "a2@example.com", IsSupport: true}))

	_, err := svc.Ingest(ctx, &IngestRequest{SenderID: customerID, ReceiverID: 43, ConversationName: "x", Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = svc.Ingest(ctx, &IngestRequest{SenderID: agentID, ReceiverID: 2, ConversationName: "x", Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	assert.Equal(t, 0, st.ConversationCount())
}

func TestIngest_Validation(t *testing.T) {
	svc, _, b := newTestService(t)

	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"missing sender", IngestRequest{ReceiverID: agentID, ConversationName: "x", Content: "hi"}},
		{"missing receiver", IngestRequest{SenderID: customerID, ConversationName: "x", Content: "hi"}},
		{"self message", IngestRequest{SenderID: customerID, ReceiverID: customerID, ConversationName: "x", Content: "hi"}},
		{"blank name", IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: "  ", Content: "hi"}},
		{"long name", IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: strings.Repeat("n", MaxNameLength+1), Content: "hi"}},
		{"blank content", IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: "x", Content: "\n\t"}},
		{"long content", IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: "x", Content: strings.Repeat("c", MaxContentLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(t.Context(), &tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, b.count())
}

func TestIngest_TrimsConversationName(t *testing.T) {
	svc, _, b := newTestService(t)

	msg, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "  order-99 ", Content: "hi",
	})
	require.NoError(t, err)
	conv, err := svc.GetConversation(t.Context(), msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "order-99", conv.Name)
	assert.Equal(t, "order-99", b.calls[0].name)
}

func TestIngest_StoreFailureSkipsBroadcast(t *testing.T) {
	svc, st, b := newTestService(t)
	st.AppendErr = errors.New("disk full")

	_, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, 0, b.count())
}

func TestIngest_BroadcastFailureIsSwallowed(t *testing.T) {
	svc, st, b := newTestService(t)
	b.err = errors.New("relay unavailable")

	msg, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi",
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, 1, st.MessageCount())
}

func TestIngest_CancelledContextStillBroadcasts(t *testing.T) {
	svc, _, _ := newTestService(t)
	seen := make(chan error, 1)
	svc.broadcaster = broadcasterFunc(func(ctx context.Context, _ string, _ *store.Message) error {
		seen <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	_, err := svc.Ingest(ctx, &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi",
	})
	require.NoError(t, err)
	assert.NoError(t, <-seen)
}

type broadcasterFunc func(ctx context.Context, name string, msg *store.Message) error

func (f broadcasterFunc) Broadcast(ctx context.Context, name string, msg *store.Message) error {
	return f(ctx, name, msg)
}

func TestIngest_DuplicateClientMessageIDReturnsOriginal(t *testing.T) {
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	svc, st, b := newTestService(t, WithDedupe(cache))

	req := &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi", ClientMessageID: "m-1",
	}
	first, err := svc.Ingest(t.Context(), req)
	require.NoError(t, err)
	again, err := svc.Ingest(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, st.MessageCount())
	assert.Equal(t, 1, b.count(), "a retry is not broadcast again")

	// Another sender may reuse the same client ID.
	_, err = svc.Ingest(t.Context(), &IngestRequest{
		SenderID: agentID, ReceiverID: customerID, ConversationName: "order-99", Content: "hi", ClientMessageID: "m-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.MessageCount())
}

func TestIngest_ListMessagesAscendingLatestLast(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	var last *store.Message
	for i := range 5 {
		sender, receiver := customerID, agentID
		if i%2 == 1 {
			sender, receiver = agentID, customerID
		}
		msg, err := svc.Ingest(ctx, &IngestRequest{
			SenderID: sender, ReceiverID: receiver, ConversationName: "order-99", Content: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
		last = msg
	}

	msgs, err := svc.ListMessages(ctx, last.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	assert.Equal(t, last.ID, msgs[len(msgs)-1].ID)

	_, err = svc.ListMessages(ctx, 12345, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngest_ConcurrentSendsBroadcastInPersistenceOrder(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender, receiver := customerID, agentID
			if i%2 == 0 {
				sender, receiver = agentID, customerID
			}
			_, err := svc.Ingest(ctx, &IngestRequest{
				SenderID: sender, ReceiverID: receiver, ConversationName: "busy", Content: fmt.Sprintf("m%d", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 40, b.count())
	for i := 1; i < len(b.calls); i++ {
		assert.Greater(t, b.calls[i].msg.ID, b.calls[i-1].msg.ID)
	}
}

func TestIngest_FanOutReachesOnlyJoinedConnections(t *testing.T) {
	hub := realtime.NewHub(nil)
	defer hub.Close()

	svc, _, _ := newTestService(t)
	svc.broadcaster = realtime.NewFanout(hub, nil)

	joinedA := &memberConn{id: "a"}
	joinedB := &memberConn{id: "b"}
	outsider := &memberConn{id: "c"}
	hub.Join(joinedA, realtime.ConversationGroup("order-99"))
	hub.Join(joinedB, realtime.ConversationGroup("order-99"))
	hub.Join(joinedB, realtime.ConversationGroup("order-99"))

	_, err := svc.Ingest(t.Context(), &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, joinedA.count())
	assert.Equal(t, 1, joinedB.count())
	assert.Equal(t, 0, outsider.count())
}

type memberConn struct {
	id string
	mu sync.Mutex
	n  int
}

func (c *memberConn) ID() string { return c.id }

func (c *memberConn) Send([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *memberConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestConversationMessages_Authorization(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := t.Context()
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: 77, Name: "Stranger", Email: "s@example.com"}))
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: 5, Name: "Agent Five", Email: "a5@example.com", IsSupport: true}))

	msg, err := svc.Ingest(ctx, &IngestRequest{
		SenderID: customerID, ReceiverID: agentID, ConversationName: "order-99", Content: "hi",
	})
	require.NoError(t, err)

	msgs, err := svc.ConversationMessages(ctx, customerID, msg.ConversationID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = svc.ConversationMessages(ctx, 5, msg.ConversationID, 0)
	assert.NoError(t, err, "any support agent may read")

	_, err = svc.ConversationMessages(ctx, 77, msg.ConversationID, 0)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ConversationMessages(ctx, customerID, 999, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessagesWithPeer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	conv, msgs, err := svc.MessagesWithPeer(ctx, customerID, agentID)
	require.NoError(t, err)
	assert.Nil(t, conv)
	assert.Empty(t, msgs)

	_, err = svc.Ingest(ctx, &IngestRequest{SenderID: agentID, ReceiverID: customerID, ConversationName: "order-1", Content: "hello"})
	require.NoError(t, err)

	conv, msgs, err = svc.MessagesWithPeer(ctx, agentID, customerID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, customerID, conv.UserID)
	assert.Len(t, msgs, 1)

	_, _, err = svc.MessagesWithPeer(ctx, customerID, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListReceiversAndConversations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	receivers, err := svc.ListReceivers(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, agentID, receivers[0].ID)

	_, err = svc.ListReceivers(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Ingest(ctx, &IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: "a", Content: "1"})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, &IngestRequest{SenderID: customerID, ReceiverID: agentID, ConversationName: "b", Content: "2"})
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx, agentID, 0)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestParticipants(t *testing.T) {
	agent := &store.User{ID: 1, IsSupport: true}
	customer := &store.User{ID: 42}

	uid, sid, err := Participants(customer, agent)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{42, 1}, [2]int64{uid, sid})

	uid, sid, err = Participants(agent, customer)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{42, 1}, [2]int64{uid, sid})
}
