// Package chat owns the lifecycle of the single chat session: creating it, sending messages, streaming the
// replies into the transcript and keeping the page controls consistent while an exchange is in flight.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/transcript"
)

// Client creates chat sessions with an AI provider.
type Client interface {
	NewSession(ctx context.Context, cfg models.SessionConfig) (Session, error)
}

// Session is one conversation context with the provider. SendStream returns the reply as a finite
// sequence of text chunks that can be consumed only once; a non-nil error ends the sequence.
type Session interface {
	SendStream(ctx context.Context, parts []models.Part) iter.Seq2[string, error]
}

// Connector builds a Client from the API credential.
type Connector func(ctx context.Context, apiKey string) (Client, error)

// Renderer is the transcript the controller writes to.
type Renderer interface {
	Append(text string, sender models.Sender, imageRef string, streaming bool) transcript.Handle
	AppendError(text string) transcript.Handle
	Update(h transcript.Handle, chunk string)
	Finalize(h transcript.Handle, fullText string)
	Clear()
}

// Speech is stopped whenever a new exchange starts.
type Speech interface {
	Cancel()
}

// Attachments holds the image staged for the next message. Take hands it over and clears it in one step.
type Attachments interface {
	Pending() (models.Attachment, bool)
	Take() (models.Attachment, bool)
}

// Display shows the state of the page controls.
type Display interface {
	ShowControls(controls models.Controls)
}

// Controller drives the chat session. Only one exchange (session start or message send) runs at a time.
type Controller struct {
	sessionCfg  models.SessionConfig
	renderer    Renderer
	speech      Speech
	attachments Attachments
	display     Display

	mu       sync.Mutex
	client   Client
	session  Session
	busy     bool
	controls models.Controls

	logger *slog.Logger
}

const (
	// DefaultModel is the model sessions are created with unless configured otherwise.
	DefaultModel = "gemini-2.5-flash-preview-04-17"

	// SystemInstruction is the persona every session starts with.
	SystemInstruction = "You are 8B Ai, a friendly, helpful, and slightly witty AI chat assistant. " +
		"You can understand text and images. Start by greeting the user and asking how you can help today."

	// GreetingPrompt is sent on behalf of the user to open a new session.
	GreetingPrompt = "Hello"

	missingKeyMessage = "Warning: API_KEY is not configured. AI features are disabled. " +
		"Please set the API_KEY environment variable to enable AI chat."
	unavailableMessage     = "Error: AI is not available. Cannot send message."
	newChatDisabledMessage = "Cannot start new chat. AI features are disabled."
	incompleteReplySuffix  = "\n\n[Error: Could not complete response]"

	enabledPlaceholder    = "Type your message to 8B Ai..."
	missingKeyPlaceholder = "AI features disabled (API_KEY missing)"
	initFailedPlaceholder = "AI initialization failed"
	errLoggerKey          = "error"
)

var (
	// ErrBusy is returned when an exchange is requested while another one is still running.
	ErrBusy = errors.New("another exchange is in progress")
	// ErrEmptyMessage is returned by SendMessage when there is neither text nor an image to send.
	ErrEmptyMessage = errors.New("message is empty")

	errNoContent = errors.New("no content to send")
)

// NewController creates a Controller with AI features disabled until Initialize succeeds. The
// system instruction and model of cfg fall back to SystemInstruction and DefaultModel.
func NewController(
	cfg models.SessionConfig,
	renderer Renderer,
	speech Speech,
	attachments Attachments,
	display Display,
	logger *slog.Logger,
) *Controller {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = SystemInstruction
	}
	return &Controller{
		sessionCfg:  cfg,
		renderer:    renderer,
		speech:      speech,
		attachments: attachments,
		display:     display,
		controls:    models.Controls{SaveEnabled: true},
		logger:      logger.With(slog.String("module", "chat")),
	}
}

// Initialize connects to the provider with apiKey. Without a key, or when connecting fails, a notice is
// added to the transcript and every AI-dependent control stays disabled for the life of the process; saving
// the transcript remains available. It reports whether AI features are usable.
func (c *Controller) Initialize(ctx context.Context, apiKey string, connect Connector) bool {
	if apiKey == "" {
		c.logger.Warn(missingKeyMessage)
		c.renderer.Append(missingKeyMessage, models.SenderAI, "", false)
		c.disable(missingKeyPlaceholder)
		return false
	}

	client, err := connect(ctx, apiKey)
	if err != nil {
		c.logger.Error("Failed to initialize AI client", slog.String(errLoggerKey, err.Error()))
		c.renderer.Append(
			fmt.Sprintf("Failed to initialize AI. Error: %s. AI features will be disabled.", err),
			models.SenderAI, "", false)
		c.disable(initFailedPlaceholder)
		return false
	}

	c.mu.Lock()
	c.client = client
	c.controls = models.Controls{
		InputEnabled:     true,
		SendEnabled:      true,
		AttachEnabled:    true,
		NewChatEnabled:   true,
		SpeakEnabled:     true,
		AutoSpeakEnabled: true,
		SaveEnabled:      true,
		Placeholder:      enabledPlaceholder,
	}
	c.mu.Unlock()

	c.publishControls()
	return true
}

// Ready reports whether an AI client is available.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Controls returns the current state of the page controls.
func (c *Controller) Controls() models.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls
}

// NewChat replaces the current session with a fresh one and greets the user.
func (c *Controller) NewChat(ctx context.Context) error {
	if !c.Ready() {
		c.renderer.Append(newChatDisabledMessage, models.SenderAI, "", false)
		return nil
	}
	return c.StartSession(ctx, true)
}

// StartSession discards the current session and transcript and creates a new session. With greet, the
// GreetingPrompt is sent and the reply streamed into the transcript. Failures are shown in the transcript
// rather than returned; the only error is ErrBusy.
func (c *Controller) StartSession(ctx context.Context, greet bool) error {
	c.speech.Cancel()

	c.mu.Lock()
	if c.client == nil {
		c.controls.SendEnabled = false
		c.controls.Loading = false
		c.mu.Unlock()
		c.publishControls()
		return nil
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.session = nil
	client := c.client
	c.controls.SendEnabled = false
	c.controls.Loading = true
	c.mu.Unlock()

	c.publishControls()
	c.renderer.Clear()

	reply := transcript.NoHandle
	var fullText strings.Builder
	defer func() {
		c.renderer.Finalize(reply, fullText.String())
		c.finish()
	}()

	session, err := client.NewSession(ctx, c.sessionCfg)
	if err != nil {
		c.startFailed(err)
		return nil
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.logger.Info("Chat session started", slog.String("model", c.sessionCfg.Model))

	if !greet {
		return nil
	}

	for chunk, err := range session.SendStream(ctx, []models.Part{{Text: GreetingPrompt}}) {
		if err != nil {
			c.startFailed(err)
			return nil
		}
		if reply == transcript.NoHandle {
			reply = c.renderer.Append("", models.SenderAI, "", true)
		}
		if chunk != "" {
			fullText.WriteString(chunk)
			c.renderer.Update(reply, chunk)
		}
	}
	return nil
}

// SendMessage sends text and the pending image attachment, if any, to the current session and streams the
// reply into the transcript. The user message is shown, and the attachment taken, before anything is sent.
// Send failures are shown in the transcript; the returned error is ErrEmptyMessage or ErrBusy.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if _, ok := c.attachments.Pending(); text == "" && !ok {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	session := c.session
	if c.client == nil || session == nil {
		c.controls.SendEnabled = false
		c.controls.Loading = false
		c.mu.Unlock()
		c.renderer.Append(unavailableMessage, models.SenderAI, "", false)
		c.publishControls()
		return nil
	}
	c.busy = true
	c.mu.Unlock()

	att, hasImage := c.attachments.Take()
	if text == "" && !hasImage {
		// Removed after the check above.
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		return ErrEmptyMessage
	}

	c.speech.Cancel()

	c.renderer.Append(text, models.SenderUser, att.DataURL, false)

	c.mu.Lock()
	c.controls.SendEnabled = false
	c.controls.Loading = true
	c.mu.Unlock()
	c.publishControls()

	reply := transcript.NoHandle
	var fullText strings.Builder
	defer func() {
		c.renderer.Finalize(reply, fullText.String())
		c.finish()
	}()

	parts := messageParts(text, att)
	if len(parts) == 0 {
		c.sendFailed(reply, &fullText, errNoContent)
		return nil
	}

	for chunk, err := range session.SendStream(ctx, parts) {
		if err != nil {
			c.sendFailed(reply, &fullText, err)
			return nil
		}
		if reply == transcript.NoHandle {
			reply = c.renderer.Append("", models.SenderAI, "", true)
		}
		if chunk != "" {
			fullText.WriteString(chunk)
			c.renderer.Update(reply, chunk)
		}
	}
	return nil
}

// messageParts orders the image before the text.
func messageParts(text string, att models.Attachment) []models.Part {
	var parts []models.Part
	if att.DataURL != "" && att.MIMEType != "" {
		parts = append(parts, models.Part{
			MIMEType: att.MIMEType,
			Data:     att.Data(),
		})
	}
	if text != "" {
		parts = append(parts, models.Part{Text: text})
	}
	return parts
}

func (c *Controller) startFailed(err error) {
	c.logger.Error("Failed to start new chat session or get initial greeting",
		slog.String(errLoggerKey, err.Error()))
	c.renderer.AppendError(fmt.Sprintf("Error starting chat: %s", err))
}

func (c *Controller) sendFailed(reply transcript.Handle, fullText *strings.Builder, err error) {
	c.logger.Error("Error sending message", slog.String(errLoggerKey, err.Error()))
	if reply != transcript.NoHandle {
		c.renderer.Update(reply, incompleteReplySuffix)
		fullText.WriteString(incompleteReplySuffix)
		return
	}
	c.renderer.AppendError(fmt.Sprintf("Error sending message: %s", err))
}

// finish ends an exchange: the loading state is cleared and sending is re-enabled when a client exists.
func (c *Controller) finish() {
	c.mu.Lock()
	c.busy = false
	c.controls.Loading = false
	c.controls.SendEnabled = c.client != nil
	c.mu.Unlock()

	c.publishControls()
}

func (c *Controller) disable(placeholder string) {
	c.mu.Lock()
	c.client = nil
	c.session = nil
	c.controls = models.Controls{
		SaveEnabled: true,
		Placeholder: placeholder,
	}
	c.mu.Unlock()

	c.publishControls()
}

func (c *Controller) publishControls() {
	if c.display == nil {
		return
	}
	c.display.ShowControls(c.Controls())
}
