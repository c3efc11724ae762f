package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/eightb-chat/internal/persistence"
)

const (
	savedAlert       = "Chat saved successfully!"
	nothingSaveAlert = "No messages to save."
	saveFailedAlert  = "Failed to save chat. Storage might be full or unavailable."
	historyAlert     = "Chat history feature (loading saved chats) is coming soon!"
)

// HandleTranscript saves the current transcript. The response body is the text the page shows in an
// alert.
func (m Main) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	n, err := m.saver.SaveTranscript(r.Context())
	switch {
	case errors.Is(err, persistence.ErrNothingToSave):
		fmt.Fprint(w, nothingSaveAlert)
		return
	case err != nil:
		m.logger.Error("Failed to save transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, saveFailedAlert, http.StatusInternalServerError)
		return
	}

	m.logger.Info("Transcript saved", slog.Int("messages", n))
	fmt.Fprint(w, savedAlert)
}

// HandleHistory is the entry point for loading saved chats, which is not available yet.
func (m Main) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, historyAlert, http.StatusNotImplemented)
}
