package wsocket

import (
	"context"
	"errors"
	"net/http"

	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"
	"visionchat_go_backend/internal/utils/broker"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler runs the live chat channel: one connection per session token,
// inbound "message" frames driving the orchestrator and outbound frames
// mirroring every appended message (including ones appended via HTTP,
// forwarded through the broker).
type Handler struct {
	orchestrator *services.ChatOrchestrator
	upgrader     websocket.Upgrader
	events       *broker.Broker
	log          zerolog.Logger
}

// Message is one frame in either direction.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewHandler(orchestrator *services.ChatOrchestrator, upgrader websocket.Upgrader, events *broker.Broker, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		upgrader:     upgrader,
		events:       events,
		log:          log,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionToken string, user *models.User) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	if user != nil {
		if err := h.orchestrator.EnsureUser(sessionToken, user); err != nil {
			h.log.Error().Err(err).Msg("Failed to bind user to session")
			_ = conn.WriteJSON(Message{Type: "error", Content: "Failed to load chat history"})
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The connection supports one concurrent writer, so every outbound
	// frame funnels through this channel and the single goroutine below.
	outbound := make(chan Message, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Debug().Err(err).Msg("Dropping websocket event write")
					cancel()
					return
				}
			}
		}
	}()
	send := func(msg Message) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	// Forward broker events so appends made over HTTP reach this socket.
	eventCh := h.events.Subscribe("session:" + sessionToken)
	defer h.events.Unsubscribe("session:"+sessionToken, eventCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-eventCh:
				if !ok {
					return
				}
				send(Message{Type: ev.Type, Payload: ev.Payload})
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "message":
			h.handleChatMessage(ctx, send, sessionToken, msg.Content)
		default:
			h.log.Debug().Str("type", msg.Type).Msg("Unknown websocket message type")
		}
	}
}

func (h *Handler) handleChatMessage(ctx context.Context, send func(Message), sessionToken, content string) {
	// The appended messages come back through the broker subscription;
	// only failures need a direct reply here.
	_, _, err := h.orchestrator.SendMessage(ctx, sessionToken, content)
	if err != nil {
		if errors.Is(err, services.ErrQuotaExceeded) {
			send(Message{Type: "quota_exceeded", Content: "Please sign in to continue chatting"})
			return
		}
		send(Message{Type: "error", Content: err.Error()})
	}
}
