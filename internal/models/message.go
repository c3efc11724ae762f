package models

import (
	"strings"
	"time"
)

// Message represents one entry of the displayed conversation. It carries the sender, the text that may
// still be growing while a reply streams in, and an optional image reference for user messages.
type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Timestamp time.Time

	// ImageRef is a data URL of the image the user attached. Always empty for AI messages.
	ImageRef string

	// IsError marks warnings and errors shown in the conversation. Such messages have no speak control
	// and are never persisted.
	IsError bool
	// IsStreaming is true from creation until the message is finalized.
	IsStreaming bool
}

// Sender identifies who a message is displayed as coming from.
type Sender string

// Role represents the role of a participant in the conversation history sent to a provider.
type Role string

const (
	// SenderUser marks messages typed by the user.
	SenderUser Sender = "user"
	// SenderAI marks replies and notices from the assistant.
	SenderAI Sender = "ai"

	// RoleUser is the provider role for user turns.
	RoleUser Role = "user"
	// RoleAssistant is the provider role for model turns.
	RoleAssistant Role = "assistant"
)

// Label returns the name shown above a message.
func (s Sender) Label() string {
	if s == SenderUser {
		return "You"
	}
	return "8B Ai"
}

// Part is one piece of outgoing content. A part is either text or an inline image; an image part has
// MIMEType and Data set, with Data holding the raw base64 payload.
type Part struct {
	Text string

	MIMEType string
	Data     string
}

// IsImage reports whether the part carries inline image data.
func (p Part) IsImage() bool {
	return p.Data != ""
}

// Turn is a single entry of the conversation history kept by providers that have no server-side chat
// object of their own.
type Turn struct {
	Role  Role
	Parts []Part
}

// Text joins the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.IsImage() {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// SessionConfig holds what a new chat session is created with.
type SessionConfig struct {
	Model             string
	SystemInstruction string
}
