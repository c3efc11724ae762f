package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
)

// HandleMessages sends the "message" form field, together with the pending image attachment, to the
// chat session. The reply streams to the page over SSE; the request returns once the exchange has ended.
//
// It answers 204 on success, 400 when there is neither text nor an image, and 409 when another exchange is
// still running.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A closed tab must not abort the exchange.
	ctx := context.WithoutCancel(r.Context())
	err := m.chat.SendMessage(ctx, r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		m.logger.Warn("Message rejected while busy")
		http.Error(w, "Another message is still being answered", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleChats starts a new chat: the transcript is cleared and the greeting streams to the page.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := m.chat.NewChat(context.WithoutCancel(r.Context()))
	if errors.Is(err, chat.ErrBusy) {
		http.Error(w, "Another message is still being answered", http.StatusConflict)
		return
	}
	if err != nil {
		m.logger.Error("Failed to start new chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
