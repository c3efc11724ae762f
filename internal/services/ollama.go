package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the chat.Client interface for interacting with Ollama's language
// models. It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

type ollamaSession struct {
	Ollama

	cfg     models.SessionConfig
	history *history
}

// NewOllama creates a new Ollama instance with the specified host URL. The host parameter should be a
// valid URL pointing to an Ollama server.
func NewOllama(host string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// NewSession implements chat.Client.
func (o Ollama) NewSession(_ context.Context, cfg models.SessionConfig) (chat.Session, error) {
	return ollamaSession{
		Ollama:  o,
		cfg:     cfg,
		history: &history{},
	}, nil
}

func ollamaMessages(systemPrompt string, turns []models.Turn) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(turns)+1)
	msgs = append(msgs, api.Message{
		Role:    "system",
		Content: systemPrompt,
	})
	for _, t := range turns {
		msg := api.Message{
			Role:    string(t.Role),
			Content: t.Text(),
		}
		for _, p := range t.Parts {
			if !p.IsImage() {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				return nil, fmt.Errorf("error decoding image data: %w", err)
			}
			msg.Images = append(msg.Images, api.ImageData(data))
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s ollamaSession) options() map[string]any {
	opts := map[string]any{}
	if s.params.Temperature != nil {
		opts["temperature"] = *s.params.Temperature
	}
	if s.params.TopP != nil {
		opts["top_p"] = *s.params.TopP
	}
	if s.params.MaxTokens != nil {
		opts["num_predict"] = *s.params.MaxTokens
	}
	return opts
}

// SendStream implements chat.Session. The reply is streamed incrementally, allowing for real-time
// processing of model outputs.
func (s ollamaSession) SendStream(ctx context.Context, parts []models.Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		turns := append(s.history.snapshot(), models.Turn{Role: models.RoleUser, Parts: parts})
		msgs, err := ollamaMessages(s.cfg.SystemInstruction, turns)
		if err != nil {
			yield("", err)
			return
		}

		t := true
		req := api.ChatRequest{
			Model:    s.cfg.Model,
			Messages: msgs,
			Stream:   &t,
			Options:  s.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		var reply strings.Builder
		if err := s.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			reply.WriteString(res.Message.Content)
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		if stopped {
			return
		}

		s.history.record(parts, reply.String())
	}
}
