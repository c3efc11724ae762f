package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/transcript"
)

const autoSpeakDisabledAlert = "Auto-speak is disabled."

// HandleSpeechToggle flips auto-speak from the navbar button and answers with the new state, or 409 while
// the auto-speak controls are disabled.
func (m Main) HandleSpeechToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.autoSpeakAllowed(w) {
		return
	}

	m.speech.ToggleAutoSpeak()
	m.writeSpeechState(w)
}

// HandleSpeechAuto brings auto-speak in line with the settings checkbox, sent as the "enabled" form field.
func (m Main) HandleSpeechAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !m.autoSpeakAllowed(w) {
		return
	}

	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}

	m.speech.SetAutoSpeak(enabled)
	m.writeSpeechState(w)
}

// HandleSpeechSpeak reads the message named by the "message_id" form field aloud.
func (m Main) HandleSpeechSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("message_id")
	if id == "" {
		http.Error(w, "message_id is required", http.StatusBadRequest)
		return
	}

	msg, ok := m.transcript.Message(transcript.Handle(id))
	if !ok {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if msg.Sender != models.SenderAI || msg.IsError {
		http.Error(w, "Only AI replies can be read aloud", http.StatusBadRequest)
		return
	}

	m.speech.Speak(msg.Text)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSpeechEnded is called by the page when an utterance finishes on its own.
func (m Main) HandleSpeechEnded(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.speech.Finished()
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) autoSpeakAllowed(w http.ResponseWriter) bool {
	if m.chat.Controls().AutoSpeakEnabled {
		return true
	}
	m.logger.Warn("Auto-speak change rejected while disabled")
	http.Error(w, autoSpeakDisabledAlert, http.StatusConflict)
	return false
}

func (m Main) writeSpeechState(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	state := m.speech.State()
	if err := json.NewEncoder(w).Encode(speechEvent{
		Action:    speechActionState,
		AutoSpeak: state.AutoSpeak,
		Available: state.Available,
	}); err != nil {
		m.logger.Error("Failed to write speech state", slog.String(errLoggerKey, err.Error()))
	}
}
