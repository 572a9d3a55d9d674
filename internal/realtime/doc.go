// Package realtime provides live-connection presence and message fan-out.
//
// # Overview
//
// Connections join groups identified by a GroupKey (namespace plus name).
// Every conversation name maps to one group in the conversation namespace:
//
//	key := realtime.ConversationGroup("order-99")
//	hub.Join(conn, key)
//	hub.Broadcast(key, payload)
//
// # Hub
//
// Hub owns the membership table:
//
//   - Join: idempotent, a connection can be in many groups at once
//   - Leave: removes one membership
//   - Disconnect: removes every membership of a closed connection
//   - Broadcast: best-effort delivery to all members, never blocks
//
// Groups exist only while they have members.
//
// # Delivery
//
// Conn.Send is a non-blocking enqueue. The websocket Connection closes itself
// when its outbound queue is full, so a slow peer never stalls a broadcast.
// Messages sent while a connection was not joined are not replayed; clients
// load history through the REST API.
//
// # Frames
//
// Clients speak tagged JSON frames. DecodeInbound reads the type tag and then
// decodes the frame into its own schema (JoinChat, LeaveChat, SendMessage)
// and validates it. Outbound frames are connected, joined, left, ack,
// receiveMessage and error.
//
// # Fanout
//
// Fanout adapts a Publisher (the Hub itself, or the Redis relay when several
// gateway instances share clients) to the conversation service's broadcast
// hook.
package realtime
