package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the chat.Client interface for OpenAI's language models, and for any
// OpenAI-compatible endpoint such as OpenRouter when a base URL is given.
type OpenAI struct {
	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

type openAISession struct {
	OpenAI

	cfg     models.SessionConfig
	history *history
}

// NewOpenAI creates a new OpenAI instance with the specified API key. An empty baseURL selects the
// official OpenAI endpoint.
func NewOpenAI(apiKey, baseURL string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		params: params,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// NewSession implements chat.Client. The OpenAI API is stateless, so the session keeps the history itself.
func (o OpenAI) NewSession(_ context.Context, cfg models.SessionConfig) (chat.Session, error) {
	return openAISession{
		OpenAI:  o,
		cfg:     cfg,
		history: &history{},
	}, nil
}

func openAIMessage(turn models.Turn) goopenai.ChatCompletionMessage {
	hasImage := false
	for _, p := range turn.Parts {
		if p.IsImage() {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return goopenai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Text(),
		}
	}

	parts := make([]goopenai.ChatMessagePart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		if p.IsImage() {
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.Data),
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
			continue
		}
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeText,
			Text: p.Text,
		})
	}
	return goopenai.ChatCompletionMessage{
		Role:         string(turn.Role),
		MultiContent: parts,
	}
}

func openAIMessages(systemPrompt string, turns []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns)+1)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range turns {
		msgs = append(msgs, openAIMessage(t))
	}
	return msgs
}

// SendStream implements chat.Session.
func (s openAISession) SendStream(ctx context.Context, parts []models.Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		turns := append(s.history.snapshot(), models.Turn{Role: models.RoleUser, Parts: parts})
		req := s.chatRequest(openAIMessages(s.cfg.SystemInstruction, turns))

		reqJSON, err := json.Marshal(req)
		if err == nil {
			s.logger.Debug("Request", slog.Int("size", len(reqJSON)), slog.Int("turns", len(turns)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		var reply strings.Builder
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			chunk := response.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}
			reply.WriteString(chunk)
			if !yield(chunk, nil) {
				return
			}
		}

		s.history.record(parts, reply.String())
	}
}

func (s openAISession) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    s.cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	if s.params.Temperature != nil {
		req.Temperature = *s.params.Temperature
	}
	if s.params.TopP != nil {
		req.TopP = *s.params.TopP
	}
	if s.params.MaxTokens != nil {
		req.MaxTokens = *s.params.MaxTokens
	}

	return req
}
