package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader — конфигурация WebSocket upgrade.
// CheckOrigin пропускает всё: API живёт за реверс-прокси,
// который отвечает за CORS и аутентификацию.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriteTimeout — таймаут записи одного сообщения в WebSocket.
const wsWriteTimeout = 10 * time.Second

// StreamEvents отдаёт события выполнения через Server-Sent Events.
// GET /api/v1/executions/{id}/events
//
// Соединение закрывается после терминального события. Подписка
// на завершённое выполнение сразу получает накопленный поток:
// буфер канала вмещает все события выполнения.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	ch, err := h.engine.Events(id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, h.logger, fmt.Errorf("response writer does not support flushing"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "id: %d\n", event.Seq)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// StreamEventsWS отдаёт события выполнения через WebSocket.
// GET /api/v1/executions/{id}/ws
//
// Каждое событие — отдельное текстовое сообщение с JSON.
// После терминального события сервер закрывает соединение.
func (h *Handler) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	ch, err := h.engine.Events(id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Read pump: отслеживаем закрытие со стороны клиента,
	// входящие сообщения игнорируются.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"),
					deadline)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed", "execution_id", id, "error", err)
				return
			}
		}
	}
}
