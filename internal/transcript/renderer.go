// Package transcript keeps the ordered list of displayed messages and renders changes to it onto a display
// surface. The list is the single source of truth for both the page and the saved transcript.
package transcript

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/google/uuid"
)

// Display receives every change made to the transcript.
type Display interface {
	ShowMessage(msg models.Message)
	ClearMessages()
}

// Speaker is consulted when a message is finalized.
type Speaker interface {
	AutoSpeak() bool
	Speak(text string)
}

// Handle identifies a message previously appended to the transcript.
type Handle string

// NoHandle is returned when no message could be appended. Update and Finalize ignore it.
const NoHandle Handle = ""

// Renderer owns the transcript. All methods are safe for concurrent use.
type Renderer struct {
	display Display
	speaker Speaker

	mu       sync.Mutex
	messages []models.Message

	logger *slog.Logger
}

var errorPrefixes = []string{"Warning:", "Error:", "Failed to initialize AI"}

// NewRenderer creates an empty transcript that publishes to display. The speaker may be nil, in which
// case finalized messages are never read aloud.
func NewRenderer(display Display, speaker Speaker, logger *slog.Logger) *Renderer {
	return &Renderer{
		display: display,
		speaker: speaker,
		logger:  logger.With(slog.String("module", "transcript")),
	}
}

// IsErrorText reports whether text is a warning or error notice that should be styled as such.
func IsErrorText(text string) bool {
	for _, p := range errorPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// Append adds a new message and displays it. The image reference is kept for user messages only.
// A nil Renderer stands for a missing message list: the call is logged and NoHandle is returned.
func (r *Renderer) Append(text string, sender models.Sender, imageRef string, streaming bool) Handle {
	if r == nil {
		slog.Error("Message list unavailable, dropping message", slog.String("sender", string(sender)))
		return NoHandle
	}

	msg := models.Message{
		ID:          uuid.New().String(),
		Sender:      sender,
		Text:        text,
		Timestamp:   time.Now(),
		IsError:     IsErrorText(text),
		IsStreaming: streaming,
	}
	if sender == models.SenderUser {
		msg.ImageRef = imageRef
	}
	return r.add(msg)
}

// AppendError adds an AI-side notice that is flagged as an error whatever its wording.
func (r *Renderer) AppendError(text string) Handle {
	if r == nil {
		slog.Error("Message list unavailable, dropping error", slog.String("text", text))
		return NoHandle
	}

	return r.add(models.Message{
		ID:        uuid.New().String(),
		Sender:    models.SenderAI,
		Text:      text,
		Timestamp: time.Now(),
		IsError:   true,
	})
}

func (r *Renderer) add(msg models.Message) Handle {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	r.show(msg)
	return Handle(msg.ID)
}

// Update appends chunk to the text of the message identified by h. Unknown handles and messages that are
// already finalized are left alone.
func (r *Renderer) Update(h Handle, chunk string) {
	if r == nil || h == NoHandle {
		return
	}

	r.mu.Lock()
	idx := r.index(h)
	if idx == -1 || !r.messages[idx].IsStreaming {
		r.mu.Unlock()
		r.logger.Debug("Ignoring update", slog.String("handle", string(h)))
		return
	}
	r.messages[idx].Text += chunk
	msg := r.messages[idx]
	r.mu.Unlock()

	r.show(msg)
}

// Finalize ends streaming for the message identified by h. When auto-speak is on and the message is a
// non-error AI reply, fullText is read aloud.
func (r *Renderer) Finalize(h Handle, fullText string) {
	if r == nil || h == NoHandle {
		return
	}

	r.mu.Lock()
	idx := r.index(h)
	if idx == -1 {
		r.mu.Unlock()
		return
	}
	r.messages[idx].IsStreaming = false
	msg := r.messages[idx]
	r.mu.Unlock()

	r.show(msg)

	if fullText == "" || r.speaker == nil {
		return
	}
	if msg.Sender == models.SenderAI && !msg.IsError && r.speaker.AutoSpeak() {
		r.speaker.Speak(fullText)
	}
}

// Clear empties the transcript.
func (r *Renderer) Clear() {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()

	if r.display != nil {
		r.display.ClearMessages()
	}
}

// Messages returns the transcript in display order.
func (r *Renderer) Messages() []models.Message {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Message looks up a single message by its handle.
func (r *Renderer) Message(h Handle) (models.Message, bool) {
	if r == nil {
		return models.Message{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.index(h)
	if idx == -1 {
		return models.Message{}, false
	}
	return r.messages[idx], true
}

func (r *Renderer) index(h Handle) int {
	return slices.IndexFunc(r.messages, func(m models.Message) bool { return m.ID == string(h) })
}

func (r *Renderer) show(msg models.Message) {
	if r.display == nil {
		r.logger.Warn("No display attached", slog.String("messageID", msg.ID))
		return
	}
	r.display.ShowMessage(msg)
}
