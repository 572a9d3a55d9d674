// ABOUTME: WebSocket chat endpoint: upgrade, read loop and frame dispatch
// ABOUTME: Routes joinChat/leaveChat to the hub and sendMessage to the conversation service

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/homedecor/support-gateway/internal/auth"
	"github.com/homedecor/support-gateway/internal/conversation"
	"github.com/homedecor/support-gateway/internal/metrics"
	"github.com/homedecor/support-gateway/internal/realtime"
)

// pongWait must exceed the connection's ping period.
const pongWait = 60 * time.Second

var (
	errRateLimited    = errors.New("too many frames, slow down")
	errSenderMismatch = errors.New("senderId does not match the authenticated user")
	errBinaryFrame    = errors.New("only text frames are accepted")
)

// sessions tracks live chat connections so shutdown can close them.
type sessions struct {
	mu    sync.Mutex
	conns map[string]*realtime.Connection
}

func newSessions() *sessions {
	return &sessions{conns: make(map[string]*realtime.Connection)}
}

func (s *sessions) add(c *realtime.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID()] = c
}

func (s *sessions) remove(c *realtime.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}

func (s *sessions) closeAll(code int, reason string) int {
	s.mu.Lock()
	conns := make([]*realtime.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
	return len(conns)
}

// checkOrigin builds the upgrader's origin policy. No configured origins
// means same-origin only; "*" allows any origin. Requests without an Origin
// header come from non-browser clients and are allowed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// handleChatSocket upgrades an authenticated request and serves the chat
// protocol until the peer disconnects.
func (g *Gateway) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := realtime.NewConnection(authCtx.UserID, ws, g.config.Chat.SendBuffer)
	conn.Start()
	g.sessions.add(conn)
	metrics.ActiveConnections.Inc()

	logger := g.logger.With("conn_id", conn.ID(), "user_id", authCtx.UserID)
	logger.Info("chat connection opened")

	defer func() {
		left := g.hub.Disconnect(conn)
		g.sessions.remove(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		metrics.ActiveConnections.Dec()
		logger.Info("chat connection closed", "groups_left", len(left))
	}()

	g.reply(conn, encoded(realtime.EncodeConnected(conn.ID(), authCtx.UserID)))
	g.readLoop(r.Context(), conn, ws, authCtx)
}

// readLoop reads frames until the socket fails or the connection is closed.
func (g *Gateway) readLoop(ctx context.Context, conn *realtime.Connection, ws *websocket.Conn, authCtx *auth.AuthContext) {
	ws.SetReadLimit(g.config.Chat.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := newLimiter(g.config.Chat.RateLimit, g.config.Chat.Burst)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("chat read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			g.replyError(conn, "", errBinaryFrame)
			continue
		}
		if !limiter.Allow() {
			g.replyError(conn, requestIDOf(data), errRateLimited)
			continue
		}
		g.dispatch(ctx, conn, authCtx, data)
	}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// requestIDOf recovers the request ID of a frame that was not dispatched.
func requestIDOf(data []byte) string {
	frame, _ := realtime.DecodeInbound(data)
	if frame == nil {
		return ""
	}
	return realtime.RequestID(frame)
}

// dispatch decodes one frame and runs its handler. Every failure is answered
// with an error frame carrying the request ID when one was given.
func (g *Gateway) dispatch(ctx context.Context, conn *realtime.Connection, authCtx *auth.AuthContext, data []byte) {
	frame, err := realtime.DecodeInbound(data)
	if err != nil {
		reqID := ""
		if frame != nil {
			reqID = realtime.RequestID(frame)
		}
		g.replyError(conn, reqID, err)
		return
	}

	switch f := frame.(type) {
	case *realtime.JoinChat:
		g.handleJoin(ctx, conn, f)
	case *realtime.LeaveChat:
		g.handleLeave(conn, f)
	case *realtime.SendMessage:
		g.handleSend(ctx, conn, authCtx, f)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, conn *realtime.Connection, f *realtime.JoinChat) {
	name := strings.TrimSpace(f.ConversationName)
	if utf8.RuneCountInString(name) > conversation.MaxNameLength {
		g.replyError(conn, f.RequestID, fmt.Errorf("%w: conversation name exceeds %d characters",
			conversation.ErrInvalidRequest, conversation.MaxNameLength))
		return
	}
	if err := g.conversation.AuthorizeJoin(ctx, conn.UserID(), name); err != nil {
		g.replyError(conn, f.RequestID, err)
		return
	}

	g.hub.Join(conn, realtime.ConversationGroup(name))
	g.reply(conn, encoded(realtime.EncodeMembership(realtime.FrameJoined, f.RequestID, name)))
}

func (g *Gateway) handleLeave(conn *realtime.Connection, f *realtime.LeaveChat) {
	name := strings.TrimSpace(f.ConversationName)
	g.hub.Leave(conn, realtime.ConversationGroup(name))
	g.reply(conn, encoded(realtime.EncodeMembership(realtime.FrameLeft, f.RequestID, name)))
}

func (g *Gateway) handleSend(ctx context.Context, conn *realtime.Connection, authCtx *auth.AuthContext, f *realtime.SendMessage) {
	senderID := f.SenderID
	if senderID == 0 {
		senderID = authCtx.UserID
	}
	if senderID != authCtx.UserID {
		g.replyError(conn, f.RequestID, errSenderMismatch)
		return
	}

	msg, err := g.conversation.Ingest(ctx, &conversation.IngestRequest{
		SenderID:         senderID,
		ReceiverID:       f.ReceiverID,
		ConversationName: f.ConversationName,
		Content:          f.Content,
		ClientMessageID:  f.ClientMessageID,
	})
	if err != nil {
		g.replyError(conn, f.RequestID, err)
		return
	}
	g.reply(conn, encoded(realtime.EncodeAck(f.RequestID, msg)))
}

func (g *Gateway) reply(conn *realtime.Connection, payload []byte) {
	if payload == nil {
		return
	}
	if err := conn.Send(payload); err != nil {
		g.logger.Debug("reply dropped", "conn_id", conn.ID(), "error", err)
	}
}

func (g *Gateway) replyError(conn *realtime.Connection, requestID string, err error) {
	code, message := frameError(err)
	if code == realtime.CodeInternal {
		g.logger.Error("chat request failed", "conn_id", conn.ID(), "request_id", requestID, "error", err)
	}
	g.reply(conn, encoded(realtime.EncodeError(requestID, code, message)))
}

// encoded drops the error of an encoder whose input always marshals; a nil
// payload is never sent.
func encoded(payload []byte, err error) []byte {
	if err != nil {
		return nil
	}
	return payload
}
