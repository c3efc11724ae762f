package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	eightbchat "github.com/MegaGrindStone/eightb-chat"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Events is the page's display surface. Every change to the transcript, the controls, the pending
// attachment and the speech state is published to the connected pages as a server-sent event, so the
// browser only mirrors state held by the server.
type Events struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	logger *slog.Logger
}

type messageView struct {
	ID        string
	Sender    string
	Label     string
	Text      string
	HTML      template.HTML
	ImageSrc  template.URL
	Timestamp time.Time

	IsError     bool
	IsStreaming bool
}

type messageEvent struct {
	ID        string `json:"id"`
	HTML      string `json:"html"`
	Streaming bool   `json:"streaming"`
}

type attachmentEvent struct {
	DataURL string `json:"dataUrl"`
}

type speechEvent struct {
	Action    string `json:"action"`
	AutoSpeak bool   `json:"autoSpeak"`
	Available bool   `json:"available"`
	Text      string `json:"text,omitempty"`
	Lang      string `json:"lang,omitempty"`
}

// SSE event types for real-time updates.
const (
	messagesSSEType   = "messages"
	resetSSEType      = "reset"
	controlsSSEType   = "controls"
	attachmentSSEType = "attachment"
	speechSSEType     = "speech"
	closeSSEType      = "close"
)

const (
	speechActionState  = "state"
	speechActionSpeak  = "speak"
	speechActionCancel = "cancel"

	errLoggerKey = "error"
)

// NewEvents creates the SSE server and parses the page templates from the embedded filesystem.
func NewEvents(logger *slog.Logger) (*Events, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		eightbchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
		),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)

	return &Events{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates: tmpl,
		markdown:  md,
		logger:    logger.With(slog.String("module", "events")),
	}, nil
}

// ServeHTTP streams events to a page.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.sseSrv.ServeHTTP(w, r)
}

// Shutdown tells connected pages the server is going away and waits up to 5 seconds for their streams
// to end.
func (e *Events) Shutdown(ctx context.Context) error {
	msg := &sse.Message{Type: sse.Type(closeSSEType)}
	// SSE requires data on every event.
	msg.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = e.sseSrv.Publish(msg)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return e.sseSrv.Shutdown(ctx)
}

// ShowMessage publishes a new or updated transcript message. The page inserts it, or replaces the
// element with the same id, and scrolls to the bottom.
func (e *Events) ShowMessage(msg models.Message) {
	var buf bytes.Buffer
	if err := e.renderMessage(&buf, msg); err != nil {
		e.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	e.publishJSON(messagesSSEType, messageEvent{
		ID:        msg.ID,
		HTML:      buf.String(),
		Streaming: msg.IsStreaming,
	})
}

// ClearMessages empties the page transcript.
func (e *Events) ClearMessages() {
	msg := sse.Message{Type: sse.Type(resetSSEType)}
	msg.AppendData("reset")
	e.publish(resetSSEType, &msg)
}

// ShowControls publishes the enabled state of the page controls.
func (e *Events) ShowControls(controls models.Controls) {
	e.publishJSON(controlsSSEType, controls)
}

// ShowPreview shows the pending image next to the input.
func (e *Events) ShowPreview(dataURL string) {
	e.publishJSON(attachmentSSEType, attachmentEvent{DataURL: dataURL})
}

// HidePreview removes the pending image preview.
func (e *Events) HidePreview() {
	e.publishJSON(attachmentSSEType, attachmentEvent{})
}

// ShowSpeechState updates the navbar button and the settings checkbox together.
func (e *Events) ShowSpeechState(state models.SpeechState) {
	e.publishJSON(speechSSEType, speechEvent{
		Action:    speechActionState,
		AutoSpeak: state.AutoSpeak,
		Available: state.Available,
	})
}

// PlayUtterance asks the page to speak text with the browser's speech synthesis.
func (e *Events) PlayUtterance(text, lang string) {
	e.publishJSON(speechSSEType, speechEvent{
		Action: speechActionSpeak,
		Text:   text,
		Lang:   lang,
	})
}

// CancelUtterance asks the page to stop speaking.
func (e *Events) CancelUtterance() {
	e.publishJSON(speechSSEType, speechEvent{Action: speechActionCancel})
}

func (e *Events) renderMessage(buf *bytes.Buffer, msg models.Message) error {
	view, err := e.messageView(msg)
	if err != nil {
		return err
	}
	if err := e.templates.ExecuteTemplate(buf, "message", view); err != nil {
		return fmt.Errorf("failed to execute message template: %w", err)
	}
	return nil
}

func (e *Events) messageView(msg models.Message) (messageView, error) {
	view := messageView{
		ID:          msg.ID,
		Sender:      string(msg.Sender),
		Label:       msg.Sender.Label(),
		Text:        msg.Text,
		Timestamp:   msg.Timestamp,
		IsError:     msg.IsError,
		IsStreaming: msg.IsStreaming,
	}
	if msg.ImageRef != "" {
		// The data URL is built by the attachment manager from an allowed image type.
		view.ImageSrc = template.URL(msg.ImageRef)
	}

	// AI replies are Markdown; user text and notices are shown as written.
	if msg.Sender != models.SenderAI || msg.IsError || msg.Text == "" {
		return view, nil
	}
	var md bytes.Buffer
	if err := e.markdown.Convert([]byte(msg.Text), &md); err != nil {
		return messageView{}, fmt.Errorf("failed to render markdown: %w", err)
	}
	view.HTML = template.HTML(md.String())
	return view, nil
}

func (e *Events) messageViews(msgs []models.Message) []messageView {
	views := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		view, err := e.messageView(msg)
		if err != nil {
			e.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			view = messageView{
				ID:     msg.ID,
				Sender: string(msg.Sender),
				Label:  msg.Sender.Label(),
				Text:   msg.Text,
			}
		}
		views = append(views, view)
	}
	return views
}

func (e *Events) publishJSON(typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("Failed to marshal event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(string(data))
	e.publish(typ, &msg)
}

func (e *Events) publish(typ string, msg *sse.Message) {
	if err := e.sseSrv.Publish(msg); err != nil {
		e.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
	}
}
