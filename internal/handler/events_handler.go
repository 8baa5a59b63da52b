package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/rewear/internal/model"
	"github.com/hitoshi/rewear/internal/session"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
	eventBufferSize = 16
)

// sessionEvent はWebSocketで配信するセッション遷移。
type sessionEvent struct {
	Event session.Event  `json:"event"`
	User  *model.Account `json:"user"`
}

// EventsHandler はクライアントのセッション遷移をWebSocketで配信する。
type EventsHandler struct {
	allowedOrigin string
	logger        *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。allowedOriginが空の場合はOriginを検査しない。
func NewEventsHandler(allowedOrigin string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{allowedOrigin: strings.TrimSpace(allowedOrigin), logger: logger}
}

func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if h.allowedOrigin == "" || origin == "" {
		return true
	}
	return origin == h.allowedOrigin
}

// Stream は接続直後に現在の状態を1件送り、以降はProviderの遷移を順に送る。
// GET /api/auth/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events := make(chan sessionEvent, eventBufferSize)
	events <- sessionEvent{Event: session.EventInitialSession, User: inst.Provider.CurrentUser()}

	unsubscribe := inst.Provider.Subscribe(func(_ context.Context, ev session.Event, s *model.Session) {
		var user *model.Account
		if s != nil {
			u := s.User
			user = &u
		}
		select {
		case events <- sessionEvent{Event: ev, User: user}:
		default:
			h.logger.Warn("dropping session event for slow websocket",
				slog.String("client_id", inst.ID),
				slog.String("event", string(ev)),
			)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
