package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/hub"
)

// WSHandler upgrades U-tier sessions to the run-watching WebSocket
// connection described in §4.5.
type WSHandler struct {
	hub    *hub.Hub
	logger *zap.Logger
}

func NewWSHandler(h *hub.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: h, logger: logger}
}

// Serve handles GET /ws.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	client, err := hub.Upgrade(h.hub, w, r, h.logger)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}
	client.Run()
}
