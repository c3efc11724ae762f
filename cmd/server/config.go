package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/eightb-chat/internal/chat"
	"github.com/MegaGrindStone/eightb-chat/internal/services"
	"github.com/MegaGrindStone/eightb-chat/internal/speech"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	model() string
	credential() string
	connector(*slog.Logger) chat.Connector
	validate() error
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`

	services.LLMParameters `yaml:",inline"`
}

type config struct {
	Port         string       `yaml:"port"`
	LogLevel     string       `yaml:"logLevel"`
	SystemPrompt string       `yaml:"systemPrompt"`
	StorePath    string       `yaml:"storePath"`
	Speech       speechConfig `yaml:"speech"`
	LLM          llmConfig    `yaml:"llm"`
}

type speechConfig struct {
	Engine   string   `yaml:"engine"`
	Language string   `yaml:"language"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type openRouterConfig struct {
	openAIConfig `yaml:",inline"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

const (
	defaultPort       = "8080"
	defaultOllamaHost = "http://127.0.0.1:11434"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultTTSCommand = "espeak-ng"

	speechEngineBrowser = "browser"
	speechEngineCommand = "command"
	speechEngineNone    = "none"
)

var defaultTTSArgs = []string{"-v", "{lang}"}

func defaultConfig() config {
	return config{
		Port:   defaultPort,
		Speech: speechConfig{Engine: speechEngineBrowser, Language: speech.DefaultLanguage},
		LLM:    &geminiConfig{BaseLLMConfig: BaseLLMConfig{Provider: "gemini"}},
	}
}

// loadConfig reads the YAML config at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	cfg := config{}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		LogLevel     string         `yaml:"logLevel"`
		SystemPrompt string         `yaml:"systemPrompt"`
		StorePath    string         `yaml:"storePath"`
		Speech       speechConfig   `yaml:"speech"`
		LLM          map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = defaultConfig()
	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.StorePath = rawConfig.StorePath
	if rawConfig.Speech.Engine != "" {
		c.Speech.Engine = rawConfig.Speech.Engine
	}
	if rawConfig.Speech.Language != "" {
		c.Speech.Language = rawConfig.Speech.Language
	}
	c.Speech.Command = rawConfig.Speech.Command
	c.Speech.Args = rawConfig.Speech.Args

	switch c.Speech.Engine {
	case speechEngineBrowser, speechEngineCommand, speechEngineNone:
	default:
		return fmt.Errorf("unknown speech engine: %s", c.Speech.Engine)
	}

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}
	if err := llm.validate(); err != nil {
		return fmt.Errorf("invalid %s config: %w", llmProvider, err)
	}

	c.LLM = llm

	return nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// speaker picks the text-to-speech backend. Browser speech plays through player.
func (s speechConfig) speaker(player speech.Player, logger *slog.Logger) speech.Speaker {
	switch s.Engine {
	case speechEngineNone:
		return nil
	case speechEngineCommand:
		if s.Command == "" {
			return speech.NewCommandSpeaker(defaultTTSCommand, defaultTTSArgs, logger)
		}
		return speech.NewCommandSpeaker(s.Command, s.Args, logger)
	default:
		return speech.NewBrowserSpeaker(player)
	}
}

// envCredential returns the first non-empty value among the config value and the named variables.
func envCredential(value string, keys ...string) string {
	if value != "" {
		return value
	}
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func (b BaseLLMConfig) model() string {
	return b.Model
}

func (b BaseLLMConfig) validate() error {
	if b.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// validate allows an empty model, which selects chat.DefaultModel.
func (g geminiConfig) validate() error {
	return nil
}

func (g geminiConfig) credential() string {
	return envCredential(g.APIKey, "API_KEY", "GEMINI_API_KEY")
}

func (g geminiConfig) connector(logger *slog.Logger) chat.Connector {
	return func(ctx context.Context, apiKey string) (chat.Client, error) {
		client, err := services.NewGemini(ctx, apiKey, g.BaseURL, g.LLMParameters, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (o openAIConfig) credential() string {
	return envCredential(o.APIKey, "API_KEY", "OPENAI_API_KEY")
}

func (o openAIConfig) connector(logger *slog.Logger) chat.Connector {
	return func(_ context.Context, apiKey string) (chat.Client, error) {
		return services.NewOpenAI(apiKey, o.BaseURL, o.LLMParameters, logger), nil
	}
}

func (o openRouterConfig) credential() string {
	return envCredential(o.APIKey, "API_KEY", "OPENROUTER_API_KEY")
}

func (o openRouterConfig) connector(logger *slog.Logger) chat.Connector {
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	return func(_ context.Context, apiKey string) (chat.Client, error) {
		return services.NewOpenAI(apiKey, baseURL, o.LLMParameters, logger), nil
	}
}

// credential is the server address: Ollama has no API key, and a host is all it needs to connect.
func (o ollamaConfig) credential() string {
	if host := envCredential(o.Host, "OLLAMA_HOST"); host != "" {
		return host
	}
	return defaultOllamaHost
}

func (o ollamaConfig) connector(logger *slog.Logger) chat.Connector {
	return func(_ context.Context, host string) (chat.Client, error) {
		client, err := services.NewOllama(host, o.LLMParameters, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (a anthropicConfig) credential() string {
	return envCredential(a.APIKey, "API_KEY", "ANTHROPIC_API_KEY")
}

func (a anthropicConfig) connector(logger *slog.Logger) chat.Connector {
	return func(_ context.Context, apiKey string) (chat.Client, error) {
		return services.NewAnthropic(apiKey, a.BaseURL, a.LLMParameters, logger), nil
	}
}
