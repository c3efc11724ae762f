package handlers

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/transcript"
)

// Chat runs the chat session: sending messages and starting new chats.
type Chat interface {
	SendMessage(ctx context.Context, text string) error
	NewChat(ctx context.Context) error
	Controls() models.Controls
}

// Transcript is the ordered list of messages shown on the page.
type Transcript interface {
	Messages() []models.Message
	Message(h transcript.Handle) (models.Message, bool)
}

// Attachments holds the image staged for the next message.
type Attachments interface {
	Select(ctx context.Context, mimeType string, r io.Reader) error
	Pending() (models.Attachment, bool)
	Clear()
}

// Speech reads messages aloud and owns the auto-speak setting.
type Speech interface {
	Speak(text string)
	ToggleAutoSpeak() bool
	SetAutoSpeak(checked bool) bool
	Finished()
	State() models.SpeechState
}

// Saver writes the transcript to storage.
type Saver interface {
	SaveTranscript(ctx context.Context) (int, error)
}

// Main handles the HTTP surface of the chat page. Actions arrive as plain POST requests; their effects
// reach the page through Events.
type Main struct {
	events      *Events
	chat        Chat
	transcript  Transcript
	attachments Attachments
	speech      Speech
	saver       Saver

	logger *slog.Logger
}

type homePageData struct {
	Messages []messageView
	Controls models.Controls
	Speech   models.SpeechState
	// Attachment is the data URL of the pending image, empty when none is staged.
	Attachment template.URL
}

// NewMain creates a new Main instance wired to the given components. The events surface must be the
// same one the components publish to.
func NewMain(
	events *Events,
	chat Chat,
	messages Transcript,
	attachments Attachments,
	speech Speech,
	saver Saver,
	logger *slog.Logger,
) Main {
	return Main{
		events:      events,
		chat:        chat,
		transcript:  messages,
		attachments: attachments,
		speech:      speech,
		saver:       saver,
		logger:      logger.With(slog.String("module", "main")),
	}
}

// HandleHome renders the page with the current transcript and control state.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := homePageData{
		Messages: m.events.messageViews(m.transcript.Messages()),
		Controls: m.chat.Controls(),
		Speech:   m.speech.State(),
	}
	if att, ok := m.attachments.Pending(); ok {
		data.Attachment = template.URL(att.DataURL)
	}
	if err := m.events.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE streams page updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.events.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the connected event streams.
func (m Main) Shutdown(ctx context.Context) error {
	return m.events.Shutdown(ctx)
}
