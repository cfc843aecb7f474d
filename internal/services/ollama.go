package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the chat LLM for Ollama's language models. It manages connections to
// an Ollama server instance and handles streaming chat completions. Ollama has no image generation here.
type Ollama struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(systemPrompt string, history []models.Turn, message string) []api.Message {
	msgs := make([]api.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: systemPrompt,
		})
	}
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := "user"
		if turn.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, api.Message{
			Role:    role,
			Content: turn.Text,
		})
	}
	return append(msgs, api.Message{
		Role:    "user",
		Content: message,
	})
}

// Chat implements the chat LLM by streaming responses from the Ollama model.
func (o Ollama) Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: ollamaMessages(o.systemPrompt, history, message),
			Stream:   &t,
			Options:  o.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Chat failed", slog.String(errLoggerKey, err.Error()))
			yield("", HandleError(fmt.Errorf("error sending request: %w", err)))
		}
	}
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if o.params.PresencePenalty != nil {
		opts["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	return opts
}
