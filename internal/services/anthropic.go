package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the chat.Client interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey    string
	endpoint  string
	maxTokens int
	params    LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicSession struct {
	Anthropic

	cfg     models.SessionConfig
	history *history
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint    = "https://api.anthropic.com/v1"
	anthropicDefaultMaxToks = 4096
)

// NewAnthropic creates a new Anthropic instance with the specified API key. An empty endpoint selects the
// public API; a MaxTokens parameter of nil falls back to a default since the API requires one.
func NewAnthropic(apiKey, endpoint string, params LLMParameters, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	maxTokens := anthropicDefaultMaxToks
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	return Anthropic{
		apiKey:    apiKey,
		endpoint:  endpoint,
		maxTokens: maxTokens,
		params:    params,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// NewSession implements chat.Client.
func (a Anthropic) NewSession(_ context.Context, cfg models.SessionConfig) (chat.Session, error) {
	return anthropicSession{
		Anthropic: a,
		cfg:       cfg,
		history:   &history{},
	}, nil
}

// anthropicMessages maps turns to API messages. Images are sent as base64 blocks ahead of the text, which
// is the order the API recommends.
func anthropicMessages(turns []models.Turn) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		blocks := make([]anthropicContentBlock, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.IsImage() {
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: p.MIMEType,
						Data:      p.Data,
					},
				})
				continue
			}
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
		}
		msgs = append(msgs, anthropicMessage{Role: string(t.Role), Content: blocks})
	}
	return msgs
}

// SendStream implements chat.Session. The reply is decoded from the server-sent event stream of the
// messages endpoint.
func (s anthropicSession) SendStream(ctx context.Context, parts []models.Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		turns := append(s.history.snapshot(), models.Turn{Role: models.RoleUser, Parts: parts})

		reqBody := anthropicChatRequest{
			Model:       s.cfg.Model,
			Messages:    anthropicMessages(turns),
			System:      s.cfg.SystemInstruction,
			MaxTokens:   s.maxTokens,
			Temperature: s.params.Temperature,
			TopP:        s.params.TopP,
			Stream:      true,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", s.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := s.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield("", anthropicStatusError(resp))
			return
		}

		var reply strings.Builder
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				s.history.record(parts, reply.String())
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				reply.WriteString(res.Delta.Text)
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				continue
			}
		}
		s.logger.Warn("Stream ended without message_stop")
	}
}

func anthropicStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e anthropicError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
