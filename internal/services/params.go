package services

import (
	"sync"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
)

// LLMParameters are the optional sampling settings shared by every provider. A nil field leaves the
// provider's default in place.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
}

// history is the conversation kept by sessions whose provider API is stateless. A turn pair is recorded
// only once a reply has been received in full, so a failed exchange leaves no trace.
type history struct {
	mu    sync.Mutex
	turns []models.Turn
}

func (h *history) snapshot() []models.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := make([]models.Turn, len(h.turns))
	copy(turns, h.turns)
	return turns
}

func (h *history) record(user []models.Part, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns,
		models.Turn{Role: models.RoleUser, Parts: user},
		models.Turn{Role: models.RoleAssistant, Parts: []models.Part{{Text: reply}}},
	)
}
