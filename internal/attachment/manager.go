// Package attachment stages at most one image between its selection and the next outgoing message.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
)

// Preview shows or hides the thumbnail of the pending attachment.
type Preview interface {
	ShowPreview(dataURL string)
	HidePreview()
}

// Manager holds the pending attachment. All methods are safe for concurrent use.
type Manager struct {
	preview Preview

	mu      sync.Mutex
	pending models.Attachment

	logger *slog.Logger
}

// MaxImageSize is the largest image accepted, in bytes.
const MaxImageSize = 20 << 20

var (
	// ErrUnsupportedType is returned when the declared type of a selected file is not an allowed image type.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned when a selected image exceeds MaxImageSize.
	ErrTooLarge = errors.New("image too large")
)

var allowedTypes = []string{"image/png", "image/jpeg", "image/jpg", "image/webp"}

// NewManager creates a Manager with nothing pending.
func NewManager(preview Preview, logger *slog.Logger) *Manager {
	return &Manager{
		preview: preview,
		logger:  logger.With(slog.String("module", "attachment")),
	}
}

// Supported reports whether mimeType is on the image allow-list.
func Supported(mimeType string) bool {
	return slices.Contains(allowedTypes, mimeType)
}

// Select validates the declared type, reads the image from r and stages it as the pending attachment,
// replacing any previous one. On failure the pending state is left untouched.
func (m *Manager) Select(ctx context.Context, mimeType string, r io.Reader) error {
	if !Supported(mimeType) {
		m.logger.Warn("Rejected attachment", slog.String("mimeType", mimeType))
		return ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	att := models.Attachment{
		DataURL:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
		MIMEType: mimeType,
	}

	m.mu.Lock()
	m.pending = att
	m.mu.Unlock()

	m.logger.Debug("Attachment staged", slog.String("mimeType", mimeType), slog.Int("size", len(data)))
	if m.preview != nil {
		m.preview.ShowPreview(att.DataURL)
	}
	return nil
}

// Pending returns the staged attachment, if any.
func (m *Manager) Pending() (models.Attachment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, !m.pending.IsZero()
}

// Clear drops the pending attachment and hides its preview.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.pending = models.Attachment{}
	m.mu.Unlock()

	if m.preview != nil {
		m.preview.HidePreview()
	}
}

// Take removes and returns the staged attachment in one step, hiding its preview. An image selected after
// Take stays pending for the following message.
func (m *Manager) Take() (models.Attachment, bool) {
	m.mu.Lock()
	att := m.pending
	m.pending = models.Attachment{}
	m.mu.Unlock()

	if att.IsZero() {
		return att, false
	}
	if m.preview != nil {
		m.preview.HidePreview()
	}
	return att, true
}
