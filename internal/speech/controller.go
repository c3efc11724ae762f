// Package speech reads messages aloud. At most one utterance plays at a time and the latest request wins.
package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
)

// Speaker is a text-to-speech capability.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) error
	Cancel()
	Speaking() bool
}

// Display mirrors the auto-speak setting on every control that shows it.
type Display interface {
	ShowSpeechState(state models.SpeechState)
}

// Controller owns the auto-speak flag and routes utterances to a Speaker.
type Controller struct {
	speaker Speaker
	lang    string
	display Display

	// speakMu serialises cancel-then-speak so two requests can't interleave.
	speakMu sync.Mutex

	mu        sync.Mutex
	autoSpeak bool

	logger *slog.Logger
}

// DefaultLanguage is the language utterances are spoken in unless configured otherwise.
const DefaultLanguage = "en-US"

const errLoggerKey = "error"

// NewController creates a Controller with auto-speak off. A nil speaker makes every Speak a no-op.
func NewController(speaker Speaker, lang string, display Display, logger *slog.Logger) *Controller {
	if lang == "" {
		lang = DefaultLanguage
	}
	return &Controller{
		speaker: speaker,
		lang:    lang,
		display: display,
		logger:  logger.With(slog.String("module", "speech")),
	}
}

// Available reports whether a speaker is configured.
func (c *Controller) Available() bool {
	return c.speaker != nil
}

// Speak reads text aloud, cancelling whatever is currently being spoken.
func (c *Controller) Speak(text string) {
	if text == "" || c.speaker == nil {
		return
	}

	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	if c.speaker.Speaking() {
		c.speaker.Cancel()
	}
	if err := c.speaker.Speak(context.Background(), text, c.lang); err != nil {
		c.logger.Error("Failed to speak", slog.String(errLoggerKey, err.Error()))
	}
}

// Cancel stops the utterance in progress, if any.
func (c *Controller) Cancel() {
	if c.speaker == nil {
		return
	}

	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	if c.speaker.Speaking() {
		c.speaker.Cancel()
	}
}

// Finished records that the current utterance ended on its own. Only speakers that are told about
// completion (the browser speaker) act on it.
func (c *Controller) Finished() {
	if f, ok := c.speaker.(interface{ Finished() }); ok {
		f.Finished()
	}
}

// AutoSpeak reports whether finalized replies are read aloud automatically.
func (c *Controller) AutoSpeak() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoSpeak
}

// ToggleAutoSpeak flips the auto-speak flag and returns the new value. Turning it off stops any speech in
// progress.
func (c *Controller) ToggleAutoSpeak() bool {
	c.mu.Lock()
	c.autoSpeak = !c.autoSpeak
	enabled := c.autoSpeak
	c.mu.Unlock()

	c.logger.Debug("Auto-speak toggled", slog.Bool("enabled", enabled))
	c.publish(enabled)

	if !enabled {
		c.Cancel()
	}
	return enabled
}

// SetAutoSpeak brings the flag in line with a checkbox. It toggles only when checked differs from the
// current value, so both controls stay in sync.
func (c *Controller) SetAutoSpeak(checked bool) bool {
	if c.AutoSpeak() == checked {
		c.publish(checked)
		return checked
	}
	return c.ToggleAutoSpeak()
}

// State returns the setting as shown on the page.
func (c *Controller) State() models.SpeechState {
	return models.SpeechState{
		AutoSpeak: c.AutoSpeak(),
		Available: c.Available(),
	}
}

func (c *Controller) publish(enabled bool) {
	if c.display == nil {
		return
	}
	c.display.ShowSpeechState(models.SpeechState{
		AutoSpeak: enabled,
		Available: c.Available(),
	})
}
