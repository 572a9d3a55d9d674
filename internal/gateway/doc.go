// Package gateway orchestrates the support-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns the
// data store, the conversation service, the realtime hub, the optional redis
// relay, the background job runner and the HTTP server.
//
// # Chat Protocol
//
// Clients open a WebSocket on /ws/chat with a bearer token (Authorization
// header or ?token= query). Frames are JSON objects keyed by "type":
//
//	-> {"type":"joinChat","requestId":"1","conversationName":"order-99"}
//	<- {"type":"joined","requestId":"1","conversationName":"order-99"}
//	-> {"type":"sendMessage","requestId":"2","receiverId":1,"conversationName":"order-99","content":"Hi"}
//	<- {"type":"receiveMessage","conversationName":"order-99","message":{...}}
//	<- {"type":"ack","requestId":"2","message":{...}}
//
// Failures are answered with {"type":"error","code":...,"error":...}; codes
// are bad_request, not_found, forbidden, rate_limited and internal_error.
// Closing the socket leaves every joined conversation.
//
// # HTTP API
//
//   - GET /api/chat/receivers - users the caller can chat with
//   - GET /api/chat/conversations - the caller's conversations
//   - GET /api/chat/conversations/{id}/messages - history, oldest first
//   - GET /api/chat/messages?peer=ID - latest conversation with a peer
//   - POST /api/contact - public contact form, emailed to the admin
//   - GET /health, GET /health/ready - liveness and readiness
//   - GET /metrics - Prometheus metrics when enabled
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled, then shuts down
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - socket.go: WebSocket endpoint and frame dispatch
//   - api.go: REST handlers
//   - errors.go: error code and status mapping
package gateway
