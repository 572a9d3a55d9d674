// Package conversation implements message ingest for support chat.
//
// # Overview
//
// The conversation package sits between the WebSocket and REST handlers and
// the store. Every chat message flows through Service.Ingest, which:
//
//  1. Validates the request (name and content caps, distinct parties)
//  2. Loads sender and receiver; an unknown user fails with store.ErrNotFound
//     before anything is written
//  3. Orders the pair as (end user, support agent) via Participants
//  4. Finds or creates the conversation for (name, user, support)
//  5. Appends the message
//  6. Hands the stored message to the Broadcaster
//
// Steps 4 to 6 run under a per-name lock so members of a conversation group
// observe messages in the order they were persisted. Broadcast errors are
// logged and never surface to the sender.
//
// # Retries
//
// With WithDedupe, a request carrying a ClientMessageID that was already
// recorded for the same sender returns the stored message without writing
// or broadcasting again.
//
// # Joining
//
// AuthorizeJoin applies the configured JoinPolicy. JoinPolicyOpen admits any
// authenticated user; JoinPolicyParticipant admits support agents and the end
// user who owns a conversation with that name.
package conversation
