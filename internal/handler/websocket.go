package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"livedepartures/internal/domain"
	"livedepartures/internal/hub"
)

// maxSubscribeStops bounds one subscribe message, since each stop costs a
// board query for the snapshot.
const maxSubscribeStops = 20

type WSHandler struct {
	hub            *hub.Hub
	board          Board
	originPatterns []string
	logger         *slog.Logger
}

// NewWSHandler takes CORS-style origins and strips their schemes, since
// websocket origin patterns match hosts.
func NewWSHandler(h *hub.Hub, board Board, origins []string, logger *slog.Logger) *WSHandler {
	originPatterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			originPatterns = append(originPatterns, o)
		}
	}
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WSHandler{
		hub:            h,
		board:          board,
		originPatterns: originPatterns,
		logger:         logger.With("handler", "websocket"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	StopIDs []int64 `json:"stopIds"`
}

type UnsubscribePayload struct {
	StopIDs []int64 `json:"stopIds"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload SnapshotPayload `json:"payload"`
}

// SnapshotPayload carries the current board of each newly subscribed stop.
type SnapshotPayload struct {
	Boards map[int64][]domain.BoardEntry `json:"boards"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 256)

	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			stops := payload.StopIDs
			if len(stops) > maxSubscribeStops {
				stops = stops[:maxSubscribeStops]
			}
			if len(stops) > 0 {
				h.hub.Subscribe(client, stops)
				h.sendSnapshot(ctx, client, stops)
			}

		case "unsubscribe":
			var payload UnsubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.StopIDs) > 0 {
				h.hub.Unsubscribe(client, payload.StopIDs)
			}

		case "ping":
			h.sendPong(client)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendSnapshot(ctx context.Context, client *hub.Client, stopIDs []int64) {
	boards := make(map[int64][]domain.BoardEntry, len(stopIDs))
	for _, stopID := range stopIDs {
		board, err := h.board.Departures(ctx, stopID)
		if err != nil {
			h.logger.Warn("snapshot board failed", "client_id", client.ID, "stop_id", stopID, "error", err)
			continue
		}
		boards[stopID] = board
	}

	data, err := json.Marshal(SnapshotMessage{
		Type:    "snapshot",
		Payload: SnapshotPayload{Boards: boards},
	})
	if err != nil {
		return
	}

	select {
	case client.Send <- data:
	default:
		h.logger.Debug("failed to send snapshot, buffer full", "client_id", client.ID)
	}
}

func (h *WSHandler) sendPong(client *hub.Client) {
	data, err := json.Marshal(PongMessage{Type: "pong"})
	if err != nil {
		return
	}

	select {
	case client.Send <- data:
	default:
	}
}
