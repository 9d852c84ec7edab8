package ws

import (
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"stream-drop/server"
	"stream-drop/server/internal/telemetry"
)

type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades overlay and chat bridge connections.
type Handler struct {
	session  *Session
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		session:  NewSession(hub, logger),
		logger:   logger,
		upgrader: upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	h.session.Serve(r.Context(), conn)
}
