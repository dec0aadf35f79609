package api

import (
	"log"
	"net/http"

	"lostmatch/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway terminates auth and origin checks in front of us
		return true
	},
}

// HandleCaseWebSocket upgrades the connection and subscribes it to a case's
// event stream (fingerprint completions, build failures, new matches)
func (h *Handler) HandleCaseWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	caseID := vars["id"]

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("case.id", caseID),
		attribute.String("user.id", requestUserID(r)),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	h.hub.Subscribe(caseID, conn)

	log.Printf("✓ WebSocket subscriber attached to case %s", caseID)
}
