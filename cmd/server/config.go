package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/xai-studio/internal/chat"
	"github.com/MegaGrindStone/xai-studio/internal/handlers"
	"github.com/MegaGrindStone/xai-studio/internal/imaging"
	"github.com/MegaGrindStone/xai-studio/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, keys *services.KeyRing, logger *slog.Logger) (chat.LLM, error)
}

// imageConfig builds the image generator together with the key ring that gates it.
type imageConfig interface {
	generator(keys *services.KeyRing, logger *slog.Logger) (imaging.Generator, *services.KeyRing, error)
}

// BaseLLMConfig contains the common fields for all provider configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port             string `yaml:"port"`
	LogLevel         string `yaml:"logLevel"`
	SystemPrompt     string `yaml:"systemPrompt"`
	MaxConversations int    `yaml:"maxConversations"`

	// Studio credential, used by the gemini providers.
	APIKey     string   `yaml:"apiKey"`
	KeyFile    string   `yaml:"keyFile"`
	KeyEnvVars []string `yaml:"keyEnvVars"`

	LLM   llmConfig   `yaml:"llm"`
	Image imageConfig `yaml:"image"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string                 `yaml:"host"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openrouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

const defaultPort = "8080"

func defaultConfig() config {
	return config{
		Port:             defaultPort,
		LogLevel:         "info",
		MaxConversations: handlers.DefaultMaxConversations,
		LLM:              geminiConfig{},
		Image:            geminiConfig{},
	}
}

// loadConfig reads the config file at path. A missing file yields the default configuration.
func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string         `yaml:"port"`
		LogLevel         string         `yaml:"logLevel"`
		SystemPrompt     string         `yaml:"systemPrompt"`
		MaxConversations int            `yaml:"maxConversations"`
		APIKey           string         `yaml:"apiKey"`
		KeyFile          string         `yaml:"keyFile"`
		KeyEnvVars       []string       `yaml:"keyEnvVars"`
		LLM              map[string]any `yaml:"llm"`
		Image            map[string]any `yaml:"image"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.MaxConversations > 0 {
		c.MaxConversations = rawConfig.MaxConversations
	}
	c.SystemPrompt = rawConfig.SystemPrompt
	c.APIKey = rawConfig.APIKey
	c.KeyFile = rawConfig.KeyFile
	c.KeyEnvVars = rawConfig.KeyEnvVars

	if rawConfig.LLM != nil {
		llm, err := decodeLLMConfig(rawConfig.LLM)
		if err != nil {
			return err
		}
		c.LLM = llm
	}

	if rawConfig.Image != nil {
		img, err := decodeImageConfig(rawConfig.Image)
		if err != nil {
			return err
		}
		c.Image = img
	}

	return nil
}

func decodeLLMConfig(raw map[string]any) (llmConfig, error) {
	provider, ok := raw["provider"].(string)
	if !ok {
		return nil, fmt.Errorf("llm provider is required")
	}

	var llm llmConfig
	switch provider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openrouterConfig{}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}

	if err := remarshal(raw, llm); err != nil {
		return nil, err
	}
	return llm, nil
}

func decodeImageConfig(raw map[string]any) (imageConfig, error) {
	provider, ok := raw["provider"].(string)
	if !ok {
		return nil, fmt.Errorf("image provider is required")
	}

	var img imageConfig
	switch provider {
	case "gemini":
		img = &geminiConfig{}
	case "openai":
		img = &openaiConfig{}
	default:
		return nil, fmt.Errorf("unknown image provider: %s", provider)
	}

	if err := remarshal(raw, img); err != nil {
		return nil, err
	}
	return img, nil
}

func remarshal(raw map[string]any, target any) error {
	rawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(rawYAML, target)
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// studioKeys returns the key ring behind the gemini providers and the key selection form.
func (c config) studioKeys(logger *slog.Logger) *services.KeyRing {
	return services.NewKeyRing(c.APIKey, c.KeyFile, c.KeyEnvVars, logger)
}

func (g geminiConfig) llm(systemPrompt string, keys *services.KeyRing, logger *slog.Logger) (chat.LLM, error) {
	return services.NewGemini(g.Model, "", systemPrompt, g.BaseURL, keys, logger), nil
}

func (g geminiConfig) generator(
	keys *services.KeyRing,
	logger *slog.Logger,
) (imaging.Generator, *services.KeyRing, error) {
	return services.NewGemini("", g.Model, "", g.BaseURL, keys, logger), keys, nil
}

func (o openaiConfig) keys(logger *slog.Logger) *services.KeyRing {
	return services.NewKeyRing(o.APIKey, "", []string{"OPENAI_API_KEY"}, logger)
}

func (o openaiConfig) llm(systemPrompt string, _ *services.KeyRing, logger *slog.Logger) (chat.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewOpenAI(o.Model, "", systemPrompt, o.BaseURL, o.Parameters, o.keys(logger), logger), nil
}

func (o openaiConfig) generator(
	_ *services.KeyRing,
	logger *slog.Logger,
) (imaging.Generator, *services.KeyRing, error) {
	keys := o.keys(logger)
	return services.NewOpenAI("", o.Model, "", o.BaseURL, o.Parameters, keys, logger), keys, nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *services.KeyRing, logger *slog.Logger) (chat.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.Parameters, logger)
}

func (a anthropicConfig) llm(systemPrompt string, _ *services.KeyRing, logger *slog.Logger) (chat.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	keys := services.NewKeyRing(a.APIKey, "", []string{"ANTHROPIC_API_KEY"}, logger)
	return services.NewAnthropic(a.Model, systemPrompt, a.BaseURL, a.MaxTokens, keys, logger), nil
}

func (o openrouterConfig) llm(systemPrompt string, _ *services.KeyRing, logger *slog.Logger) (chat.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	keys := services.NewKeyRing(o.APIKey, "", []string{"OPENROUTER_API_KEY"}, logger)
	return services.NewOpenRouter(o.Model, systemPrompt, o.BaseURL, keys, logger), nil
}

func providerName(v any) string {
	name := fmt.Sprintf("%T", v)
	name = strings.TrimPrefix(name, "*")
	name = strings.TrimPrefix(name, "main.")
	return strings.TrimSuffix(name, "Config")
}
