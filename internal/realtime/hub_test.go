// ABOUTME: Tests for the presence hub
// ABOUTME: Covers idempotent join, leave-all on disconnect, isolation, and non-blocking broadcast

package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	received [][]byte
	sendErr  error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestHub_BroadcastToEmptyGroupIsNoop(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	assert.Equal(t, 0, h.Broadcast(ConversationGroup("order-99"), []byte("x")))
	assert.Equal(t, 0, h.GroupCount())
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	conn := newFakeConn("c1")
	key := ConversationGroup("order-99")

	assert.True(t, h.Join(conn, key))
	assert.False(t, h.Join(conn, key))
	assert.Equal(t, 1, h.Members(key))

	delivered := h.Broadcast(key, []byte("hello"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, conn.count(), "double join must not duplicate delivery")
}

func TestHub_OnlyJoinedConnectionsReceive(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := newFakeConn("a")
	b := newFakeConn("b")
	outsider := newFakeConn("outsider")
	key := ConversationGroup("order-99")

	h.Join(a, key)
	h.Join(b, key)
	h.Join(outsider, ConversationGroup("order-100"))

	assert.Equal(t, 2, h.Broadcast(key, []byte("msg")))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, outsider.count())
}

func TestHub_NamespacesDoNotCollide(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	conn := newFakeConn("c1")
	h.Join(conn, GroupKey{Namespace: "presence", Name: "order-99"})

	assert.Equal(t, 0, h.Broadcast(ConversationGroup("order-99"), []byte("x")))
	assert.Equal(t, 0, conn.count())
}

func TestHub_LeaveAndDisconnect(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	conn := newFakeConn("c1")
	k1 := ConversationGroup("order-1")
	k2 := ConversationGroup("order-2")
	h.Join(conn, k1)
	h.Join(conn, k2)

	assert.Equal(t, []GroupKey{k1, k2}, h.Groups(conn))

	assert.True(t, h.Leave(conn, k1))
	assert.False(t, h.Leave(conn, k1))
	assert.Equal(t, 0, h.Members(k1))
	assert.Equal(t, 1, h.GroupCount(), "empty groups are removed")

	h.Join(conn, k1)
	left := h.Disconnect(conn)
	assert.ElementsMatch(t, []GroupKey{k1, k2}, left)
	assert.Empty(t, h.Groups(conn))
	assert.Equal(t, 0, h.GroupCount())

	assert.Equal(t, 0, h.Broadcast(k2, []byte("after")))
	assert.Equal(t, 0, conn.count())

	assert.Empty(t, h.Disconnect(conn), "disconnect twice is harmless")
}

func TestHub_FailingMemberDoesNotStopBroadcast(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	key := ConversationGroup("order-99")
	broken := newFakeConn("broken")
	broken.sendErr = errors.New("buffer full")
	healthy := newFakeConn("healthy")
	h.Join(broken, key)
	h.Join(healthy, key)

	assert.Equal(t, 1, h.Broadcast(key, []byte("x")))
	assert.Equal(t, 1, healthy.count())
}

func TestHub_PublishDeliversLocally(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	conn := newFakeConn("c1")
	key := ConversationGroup("order-99")
	h.Join(conn, key)

	require.NoError(t, h.Publish(t.Context(), key, []byte("x")))
	assert.Equal(t, 1, conn.count())
}

func TestHub_ConcurrentJoinBroadcastDisconnect(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	key := ConversationGroup("busy")
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			h.Join(conn, key)
			h.Broadcast(key, []byte("x"))
			h.Disconnect(conn)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.Members(key))
	assert.Equal(t, 0, h.GroupCount())
}

func TestGroupKey_String(t *testing.T) {
	assert.Equal(t, "conversation-order-99", ConversationGroup("order-99").String())
	assert.True(t, GroupKey{}.IsZero())
	assert.False(t, ConversationGroup("x").IsZero())
}
