// ABOUTME: In-memory presence table and best-effort fan-out for live connections
// ABOUTME: Tracks group membership per connection and broadcasts payloads without blocking

package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/homedecor/support-gateway/internal/metrics"
)

// Conn is a live connection that can receive payloads.
// Send must not block: it either enqueues the payload or returns an error.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

// Hub tracks which connection belongs to which group and delivers payloads
// to every member of a group. Groups are created on first join and removed
// when their last member leaves.
type Hub struct {
	mu      sync.RWMutex
	groups  map[GroupKey]map[string]Conn    // group -> connID -> conn
	members map[string]map[GroupKey]struct{} // connID -> groups
	logger  *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups:  make(map[GroupKey]map[string]Conn),
		members: make(map[string]map[GroupKey]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

// Join adds conn to the group. Joining a group twice has the same effect as
// joining once; the return value reports whether the membership is new.
func (h *Hub) Join(conn Conn, key GroupKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[key]
	if !ok {
		group = make(map[string]Conn)
		h.groups[key] = group
	}
	if _, exists := group[conn.ID()]; exists {
		return false
	}
	group[conn.ID()] = conn

	groups, ok := h.members[conn.ID()]
	if !ok {
		groups = make(map[GroupKey]struct{})
		h.members[conn.ID()] = groups
	}
	groups[key] = struct{}{}

	metrics.ActiveGroups.Set(float64(len(h.groups)))
	h.logger.Debug("connection joined group",
		"conn_id", conn.ID(),
		"group", key.String(),
		"members", len(group))
	return true
}

// Leave removes conn from one group. It reports whether conn was a member.
func (h *Hub) Leave(conn Conn, key GroupKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	left := h.leaveLocked(conn.ID(), key)
	if left {
		metrics.ActiveGroups.Set(float64(len(h.groups)))
		h.logger.Debug("connection left group", "conn_id", conn.ID(), "group", key.String())
	}
	return left
}

// Disconnect removes conn from every group it belongs to and returns the
// groups it left. It is called when the transport closes.
func (h *Hub) Disconnect(conn Conn) []GroupKey {
	h.mu.Lock()
	defer h.mu.Unlock()

	groups := h.members[conn.ID()]
	left := make([]GroupKey, 0, len(groups))
	for key := range groups {
		left = append(left, key)
	}
	for _, key := range left {
		h.leaveLocked(conn.ID(), key)
	}
	delete(h.members, conn.ID())

	metrics.ActiveGroups.Set(float64(len(h.groups)))
	if len(left) > 0 {
		h.logger.Debug("connection removed from all groups", "conn_id", conn.ID(), "groups", len(left))
	}
	sortKeys(left)
	return left
}

func (h *Hub) leaveLocked(connID string, key GroupKey) bool {
	group, ok := h.groups[key]
	if !ok {
		return false
	}
	if _, exists := group[connID]; !exists {
		return false
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(h.groups, key)
	}

	if groups, ok := h.members[connID]; ok {
		delete(groups, key)
		if len(groups) == 0 {
			delete(h.members, connID)
		}
	}
	return true
}

// Broadcast delivers payload to every member of the group and returns the
// number of members that accepted it. Members whose Send fails are skipped;
// nothing is retried and an empty group is a no-op.
func (h *Hub) Broadcast(key GroupKey, payload []byte) int {
	h.mu.RLock()
	group, ok := h.groups[key]
	if !ok || len(group) == 0 {
		h.mu.RUnlock()
		metrics.Broadcasts.WithLabelValues(string(key.Namespace)).Inc()
		return 0
	}

	// Copy targets under read lock to avoid holding lock during sends
	targets := make([]Conn, 0, len(group))
	for _, conn := range group {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			metrics.DroppedDeliveries.Inc()
			h.logger.Debug("dropped payload for member",
				"group", key.String(),
				"conn_id", conn.ID(),
				"error", err)
			continue
		}
		delivered++
	}

	metrics.Broadcasts.WithLabelValues(string(key.Namespace)).Inc()
	metrics.Deliveries.Add(float64(delivered))
	return delivered
}

// Publish implements Publisher for a single-instance deployment.
func (h *Hub) Publish(_ context.Context, key GroupKey, payload []byte) error {
	h.Broadcast(key, payload)
	return nil
}

// Members returns the number of connections in the group.
func (h *Hub) Members(key GroupKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[key])
}

// Groups returns the groups conn belongs to, sorted by name.
func (h *Hub) Groups(conn Conn) []GroupKey {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]GroupKey, 0, len(h.members[conn.ID()]))
	for key := range h.members[conn.ID()] {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// GroupCount returns the number of non-empty groups.
func (h *Hub) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// Close drops all membership state. Connections are owned by their
// transport handlers and are not closed here.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.groups = make(map[GroupKey]map[string]Conn)
	h.members = make(map[string]map[GroupKey]struct{})
	metrics.ActiveGroups.Set(0)

	h.logger.Debug("hub closed")
}

func sortKeys(keys []GroupKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].Name < keys[j].Name
	})
}
