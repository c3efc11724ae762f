package models

import "strings"

// Attachment is the image staged for the next outgoing message. DataURL and MIMEType are either both
// set or both empty.
type Attachment struct {
	DataURL  string
	MIMEType string
}

// Data returns the base64 payload of the attachment with any data-URL prefix stripped.
func (a Attachment) Data() string {
	if _, payload, ok := strings.Cut(a.DataURL, ","); ok {
		return payload
	}
	return a.DataURL
}

// IsZero reports whether no image is staged.
func (a Attachment) IsZero() bool {
	return a.DataURL == "" && a.MIMEType == ""
}

// Controls is the enabled state of the page controls. The zero value has everything disabled.
type Controls struct {
	InputEnabled     bool `json:"inputEnabled"`
	SendEnabled      bool `json:"sendEnabled"`
	AttachEnabled    bool `json:"attachEnabled"`
	NewChatEnabled   bool `json:"newChatEnabled"`
	SpeakEnabled     bool `json:"speakEnabled"`
	AutoSpeakEnabled bool `json:"autoSpeakEnabled"`
	SaveEnabled      bool `json:"saveEnabled"`

	Loading     bool   `json:"loading"`
	Placeholder string `json:"placeholder"`
}

// SpeechState is the auto-speak setting as shown by both of its page controls.
type SpeechState struct {
	AutoSpeak bool
	Available bool
}

// SavedMessage is the persisted shape of a transcript entry.
type SavedMessage struct {
	Sender   Sender `json:"sender"`
	Text     string `json:"text"`
	ImageSrc string `json:"imageSrc,omitempty"`
}
