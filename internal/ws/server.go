package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"readalonggo/internal/auth"
	"readalonggo/internal/services/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 12 * time.Second
	pingPeriod = 3 * time.Second // must be < pongWait
)

type WsServer struct {
	router     *Router
	sessionSvc session.ISessionService
	tokens     *auth.TokenParser
	upgrader   websocket.Upgrader
	validate   *validator.Validate
}

func NewWsServer(sessionSvc session.ISessionService, tokens *auth.TokenParser) *WsServer {
	srv := &WsServer{
		router:     NewRouter(),
		sessionSvc: sessionSvc,
		tokens:     tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // dev-only
		},
		validate: validator.New(),
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	// A missing or malformed token still gets a socket, but the connection
	// stays unauthenticated and may not join any room.
	var userID string
	if token := ginCtx.Query("token"); token != "" {
		id, err := s.tokens.ParseUserID(token)
		if err != nil {
			zap.L().Debug("ws.token", zap.Error(err))
		} else {
			userID = id
		}
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(4096)

	conn := &clientConn{
		id:      uuid.NewString(),
		userID:  userID,
		rawConn: rawConn,
	}

	go s.reader(conn)
	go s.pinger(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 session/join ---------------------------------------------------------
	Register(
		s.router,
		"session/join",
		func(ctx context.Context, cc *ConnContext, req JoinRoomRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errInvalidPayload
			}
			return AckBody{}, s.sessionSvc.Join(ctx, cc.Conn, req.MeetingID)
		},
	)

	// 🔹 session/leave --------------------------------------------------------
	Register(
		s.router,
		"session/leave",
		func(ctx context.Context, cc *ConnContext, _ LeaveRequest) (AckBody, error) {
			return AckBody{}, s.sessionSvc.Leave(ctx, cc.Conn)
		},
	)

	// 🔹 session/control ------------------------------------------------------
	Register(
		s.router,
		"session/control",
		func(ctx context.Context, cc *ConnContext, req ControlRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errInvalidPayload
			}
			return AckBody{}, s.sessionSvc.ApplyControl(ctx, cc.Conn, session.PlaybackState{
				IsPlaying:   req.IsPlaying,
				CurrentTime: req.CurrentTime,
			})
		},
	)

	// 🔹 session/reading ------------------------------------------------------
	Register(
		s.router,
		"session/reading",
		func(ctx context.Context, cc *ConnContext, req ReadingRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errInvalidPayload
			}
			return AckBody{}, s.sessionSvc.ApplyReading(ctx, cc.Conn, session.ReadingPosition{
				Page:      req.Page,
				Paragraph: req.Paragraph,
			})
		},
	)

	// 🔹 session/chat ---------------------------------------------------------
	Register(
		s.router,
		"session/chat",
		func(ctx context.Context, cc *ConnContext, req ChatRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errInvalidPayload
			}
			return AckBody{}, s.sessionSvc.PostChat(ctx, cc.Conn, req.Text)
		},
	)

	// 🔹 session/end ----------------------------------------------------------
	Register(
		s.router,
		"session/end",
		func(ctx context.Context, cc *ConnContext, _ EndRequest) (AckBody, error) {
			return AckBody{}, s.sessionSvc.EndMeeting(ctx, cc.Conn)
		},
	)
}

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		// The disconnect notification is the only reliable leave signal;
		// a client-sent "leave" cannot be assumed.
		s.sessionSvc.Disconnect(conn)
		_ = conn.rawConn.Close()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{Conn: conn, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		// Failures are reported to the originating connection only.
		if err != nil {
			_ = conn.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: reasonCode(err)},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		_ = conn.writeJSON(reply)
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		err := conn.rawConn.WriteControl(
			websocket.PingMessage, nil, time.Now().Add(writeWait))
		if err != nil {
			_ = conn.rawConn.Close()
			return
		}
	}
}

// reasonCode maps service errors to the machine-readable codes clients see.
func reasonCode(err error) string {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrForbidden):
		return "forbidden"
	case errors.Is(err, session.ErrPersistence):
		return "persistence_failed"
	case errors.Is(err, session.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, errUnknownEvent):
		return "unknown_event"
	case errors.Is(err, errInvalidPayload):
		return "invalid_payload"
	default:
		return "internal_error"
	}
}
