package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"google.golang.org/genai"
)

// Gemini provides an implementation of the chat.Client interface for Google's Gemini models. Sessions are
// backed by the SDK's chat object, which keeps the conversation history on the client side.
type Gemini struct {
	params LLMParameters

	client *genai.Client

	logger *slog.Logger
}

type geminiSession struct {
	chat   *genai.Chat
	logger *slog.Logger
}

// NewGemini creates a Gemini client for the Gemini API authenticated with apiKey. An empty baseURL selects
// the public endpoint.
func NewGemini(
	ctx context.Context,
	apiKey, baseURL string,
	params LLMParameters,
	logger *slog.Logger,
) (Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return Gemini{}, fmt.Errorf("error creating gemini client: %w", err)
	}

	return Gemini{
		params: params,
		client: client,
		logger: logger.With(slog.String("module", "gemini")),
	}, nil
}

// NewSession implements chat.Client.
func (g Gemini) NewSession(ctx context.Context, cfg models.SessionConfig) (chat.Session, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
		Temperature:       g.params.Temperature,
		TopP:              g.params.TopP,
	}
	if g.params.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*g.params.MaxTokens)
	}

	c, err := g.client.Chats.Create(ctx, cfg.Model, genCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating chat: %w", err)
	}

	return geminiSession{chat: c, logger: g.logger}, nil
}

func geminiParts(parts []models.Part) ([]genai.Part, error) {
	gParts := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if !p.IsImage() {
			gParts = append(gParts, genai.Part{Text: p.Text})
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("error decoding image data: %w", err)
		}
		gParts = append(gParts, genai.Part{
			InlineData: &genai.Blob{
				MIMEType: p.MIMEType,
				Data:     data,
			},
		})
	}
	return gParts, nil
}

// SendStream implements chat.Session.
func (s geminiSession) SendStream(ctx context.Context, parts []models.Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		gParts, err := geminiParts(parts)
		if err != nil {
			yield("", err)
			return
		}

		for res, err := range s.chat.SendMessageStream(ctx, gParts...) {
			if err != nil {
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}
			text := res.Text()
			s.logger.Debug("Chunk received", slog.Int("length", len(text)))
			if !yield(text, nil) {
				return
			}
		}
	}
}
