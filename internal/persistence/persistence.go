package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
)

// BlobStore writes a single value under a key, replacing any previous value.
type BlobStore interface {
	Set(ctx context.Context, key string, value []byte) error
}

// Source exposes the transcript to save, in display order.
type Source interface {
	Messages() []models.Message
}

// Saver writes a snapshot of the transcript to a BlobStore under a fixed key.
type Saver struct {
	store  BlobStore
	source Source

	logger *slog.Logger
}

// TranscriptKey is the key the saved transcript is stored under. Each save overwrites the previous one.
const TranscriptKey = "8bAi_savedChat"

const errLoggerKey = "error"

// ErrNothingToSave is returned when the transcript holds no message eligible for saving.
var ErrNothingToSave = errors.New("no messages to save")

// NewSaver creates a Saver reading from source and writing to store.
func NewSaver(store BlobStore, source Source, logger *slog.Logger) Saver {
	return Saver{
		store:  store,
		source: source,
		logger: logger.With(slog.String("module", "persistence")),
	}
}

// Snapshot returns the saveable form of msgs. Error messages and messages carrying neither text nor an
// image are left out.
func Snapshot(msgs []models.Message) []models.SavedMessage {
	saved := make([]models.SavedMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsError {
			continue
		}
		if msg.Text == "" && msg.ImageRef == "" {
			continue
		}
		saved = append(saved, models.SavedMessage{
			Sender:   msg.Sender,
			Text:     msg.Text,
			ImageSrc: msg.ImageRef,
		})
	}
	return saved
}

// SaveTranscript serializes the eligible messages as a JSON array and writes it under TranscriptKey. It
// returns the number of messages written. When nothing is eligible the store is left untouched and
// ErrNothingToSave is returned.
func (s Saver) SaveTranscript(ctx context.Context) (int, error) {
	saved := Snapshot(s.source.Messages())
	if len(saved) == 0 {
		return 0, ErrNothingToSave
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transcript: %w", err)
	}

	if err := s.store.Set(ctx, TranscriptKey, data); err != nil {
		s.logger.Error("Failed to write transcript", slog.String(errLoggerKey, err.Error()))
		return 0, fmt.Errorf("failed to write transcript: %w", err)
	}

	s.logger.Info("Transcript saved", slog.Int("messages", len(saved)), slog.Int("bytes", len(data)))
	return len(saved), nil
}
