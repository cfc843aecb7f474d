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
	"slices"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/tmaxmax/go-sse"
)

// OpenRouter provides an implementation of the chat LLM for OpenRouter's language models.
type OpenRouter struct {
	model        string
	systemPrompt string
	baseURL      string

	keys KeySource

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterStreamingResponse struct {
	Choices []openRouterStreamingChoice `json:"choices"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterStreamingChoice struct {
	Delta openRouterMessage `json:"delta"`
}

const (
	// OpenRouterAPIEndpoint is the default OpenRouter API base URL.
	OpenRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance. baseURL defaults to OpenRouterAPIEndpoint when empty.
func NewOpenRouter(model, systemPrompt, baseURL string, keys KeySource, logger *slog.Logger) OpenRouter {
	if baseURL == "" {
		baseURL = OpenRouterAPIEndpoint
	}
	return OpenRouter{
		model:        model,
		systemPrompt: systemPrompt,
		baseURL:      baseURL,
		keys:         keys,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "openrouter")),
	}
}

// Chat streams responses from the OpenRouter API for the given history and new message. The context can be
// used to cancel ongoing requests.
func (o OpenRouter) Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := o.doRequest(ctx, history, message)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", HandleError(fmt.Errorf("error sending request: %w", err)))
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", HandleError(fmt.Errorf("error reading response: %w", err)))
				return
			}

			o.logger.Debug("Received event", slog.String("event", ev.Data))

			if ev.Data == "[DONE]" {
				return
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield("", fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if res.Error != nil {
				yield("", HandleError(fmt.Errorf("openrouter error %d: %s", res.Error.Code, res.Error.Message)))
				return
			}

			if len(res.Choices) == 0 || res.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(res.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (o OpenRouter) doRequest(ctx context.Context, history []models.Turn, message string) (*http.Response, error) {
	key := o.keys.Key()
	if key == "" {
		return nil, errNoKey
	}

	msgs := make([]openRouterMessage, 0, len(history)+2)
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := "user"
		if turn.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, openRouterMessage{
			Role:    role,
			Content: turn.Text,
		})
	}
	msgs = append(msgs, openRouterMessage{
		Role:    "user",
		Content: message,
	})
	if o.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, openRouterMessage{
			Role:    "system",
			Content: o.systemPrompt,
		})
	}

	jsonBody, err := json.Marshal(openRouterChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	o.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/xai-studio/")
	req.Header.Set("X-Title", "XAI Studio")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
