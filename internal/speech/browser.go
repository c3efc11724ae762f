package speech

import (
	"context"
	"sync"
)

// Player forwards utterances to the page, where the browser's speech synthesis plays them.
type Player interface {
	PlayUtterance(text, lang string)
	CancelUtterance()
}

// BrowserSpeaker speaks through the connected page. The page reports back through Finished when an
// utterance ends on its own.
type BrowserSpeaker struct {
	player Player

	mu       sync.Mutex
	speaking bool
}

// NewBrowserSpeaker creates a BrowserSpeaker that plays through player.
func NewBrowserSpeaker(player Player) *BrowserSpeaker {
	return &BrowserSpeaker{player: player}
}

// Speak implements Speaker.
func (b *BrowserSpeaker) Speak(_ context.Context, text, lang string) error {
	b.player.PlayUtterance(text, lang)

	b.mu.Lock()
	b.speaking = true
	b.mu.Unlock()
	return nil
}

// Cancel implements Speaker.
func (b *BrowserSpeaker) Cancel() {
	b.player.CancelUtterance()
	b.Finished()
}

// Speaking implements Speaker.
func (b *BrowserSpeaker) Speaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Finished marks the current utterance as done.
func (b *BrowserSpeaker) Finished() {
	b.mu.Lock()
	b.speaking = false
	b.mu.Unlock()
}
