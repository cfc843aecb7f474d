package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/MegaGrindStone/xai-studio/internal/services"
)

type staticKey string

func (k staticKey) Key() string { return string(k) }

type chatLLM interface {
	Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error]
}

func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var fragments []string
	for f, err := range seq {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

func sseHandler(t *testing.T, wantPath string, events []string, gotBody *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("request path = %s, want %s", r.URL.Path, wantPath)
		}
		body, _ := io.ReadAll(r.Body)
		if gotBody != nil {
			if err := json.Unmarshal(body, gotBody); err != nil {
				t.Errorf("invalid request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprint(w, ev)
		}
	}
}

var testHistory = []models.Turn{
	{Role: models.RoleUser, Text: "Hi"},
	{Role: models.RoleModel, Text: "Hello"},
	{Role: models.RoleModel, Text: ""},
}

func TestChatProviders(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		events   []string
		newLLM   func(baseURL string) chatLLM
		wantRole string
	}{
		{
			name: "Anthropic",
			path: "/messages",
			events: []string{
				"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Hello, \"}}\n\n",
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"world!\"}}\n\n",
				"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
			},
			newLLM: func(baseURL string) chatLLM {
				return services.NewAnthropic("claude", "be nice", baseURL, 1024, staticKey("k"), discardLogger())
			},
			wantRole: "assistant",
		},
		{
			name: "OpenRouter",
			path: "/chat/completions",
			events: []string{
				"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Hello, \"}}]}\n\n",
				"data: {\"choices\":[]}\n\n",
				"data: {\"choices\":[{\"delta\":{\"content\":\"world!\"}}]}\n\n",
				"data: [DONE]\n\n",
			},
			newLLM: func(baseURL string) chatLLM {
				return services.NewOpenRouter("some/model", "be nice", baseURL, staticKey("k"), discardLogger())
			},
			wantRole: "assistant",
		},
		{
			name: "OpenAI",
			path: "/chat/completions",
			events: []string{
				"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello, \"}}]}\n\n",
				"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"world!\"}}]}\n\n",
				"data: [DONE]\n\n",
			},
			newLLM: func(baseURL string) chatLLM {
				return services.NewOpenAI("gpt", "", "be nice", baseURL, services.LLMParameters{}, staticKey("k"), discardLogger())
			},
			wantRole: "assistant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(sseHandler(t, tt.path, tt.events, &body))
			defer srv.Close()

			fragments, err := collect(tt.newLLM(srv.URL).Chat(context.Background(), testHistory, "How are you?"))
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			if got := strings.Join(fragments, ""); got != "Hello, world!" {
				t.Errorf("Chat() fragments = %q, want Hello, world!", fragments)
			}

			msgs, ok := body["messages"].([]any)
			if !ok {
				t.Fatalf("request has no messages: %v", body)
			}
			last := msgs[len(msgs)-1].(map[string]any)
			if last["content"] != "How are you?" || last["role"] != "user" {
				t.Errorf("last message = %v, want the new user message", last)
			}
			for _, m := range msgs {
				msg := m.(map[string]any)
				if msg["content"] == "Hello" && msg["role"] != tt.wantRole {
					t.Errorf("model turn role = %v, want %s", msg["role"], tt.wantRole)
				}
				if msg["content"] == "" {
					t.Errorf("empty turn should not be sent: %v", msgs)
				}
			}
		})
	}
}

func TestChatProviderErrors(t *testing.T) {
	t.Run("Anthropic stream error", func(t *testing.T) {
		srv := httptest.NewServer(sseHandler(t, "/messages", []string{
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Partial\"}}\n\n",
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		}, nil))
		defer srv.Close()

		llm := services.NewAnthropic("claude", "", srv.URL, 1024, staticKey("k"), discardLogger())
		fragments, err := collect(llm.Chat(context.Background(), nil, "Hi"))
		if err == nil || !strings.Contains(err.Error(), "Overloaded") {
			t.Errorf("Chat() error = %v, want overloaded error", err)
		}
		if len(fragments) != 1 || fragments[0] != "Partial" {
			t.Errorf("Chat() fragments = %q, want [Partial]", fragments)
		}
	})

	t.Run("Bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		llm := services.NewOpenRouter("m", "", srv.URL, staticKey("k"), discardLogger())
		_, err := collect(llm.Chat(context.Background(), nil, "Hi"))
		if err == nil || !strings.HasPrefix(err.Error(), "rate limited: ") {
			t.Errorf("Chat() error = %v, want rate limited", err)
		}
	})

	t.Run("No key", func(t *testing.T) {
		llm := services.NewAnthropic("claude", "", "http://127.0.0.1:0", 1024, staticKey(""), discardLogger())
		_, err := collect(llm.Chat(context.Background(), nil, "Hi"))
		if err == nil || !strings.HasPrefix(err.Error(), "authentication failed: ") {
			t.Errorf("Chat() error = %v, want authentication failure", err)
		}
	})
}

func TestOllamaChat(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("request path = %s, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama","message":{"role":"assistant","content":"Hello, "},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama","message":{"role":"assistant","content":"world!"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama","message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	temp := float32(0.2)
	llm, err := services.NewOllama(srv.URL, "llama", "be nice", services.LLMParameters{Temperature: &temp}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	fragments, err := collect(llm.Chat(context.Background(), testHistory, "How are you?"))
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got := strings.Join(fragments, ""); got != "Hello, world!" {
		t.Errorf("Chat() = %q, want Hello, world!", got)
	}

	msgs := req["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages = %v, want system + 2 history + new", msgs)
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v, want system prompt", first)
	}
	opts := req["options"].(map[string]any)
	if opts["temperature"] == nil {
		t.Errorf("options = %v, want temperature", opts)
	}
}

func TestOpenAIGenerateImage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
	}{
		{
			name:    "Image",
			body:    `{"created":1,"data":[{"b64_json":"AAAA"}]}`,
			wantURL: "data:image/png;base64,AAAA",
		},
		{
			name: "No image",
			body: `{"created":1,"data":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/images/generations" {
					t.Errorf("request path = %s, want /images/generations", r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			o := services.NewOpenAI("gpt", "", "", srv.URL, services.LLMParameters{}, staticKey("k"), discardLogger())
			img, err := o.GenerateImage(context.Background(), "a fox", models.ImageSize4K)
			if err != nil {
				t.Fatalf("GenerateImage() error = %v", err)
			}
			if req["size"] != "1024x1024" || req["response_format"] != "b64_json" {
				t.Errorf("request = %v, want square b64_json image", req)
			}
			if tt.wantURL == "" {
				if img != nil {
					t.Errorf("GenerateImage() = %+v, want nil", img)
				}
				return
			}
			if img == nil || img.URL != tt.wantURL {
				t.Fatalf("GenerateImage() = %+v, want URL %s", img, tt.wantURL)
			}
			if img.Prompt != "a fox" || img.Size != models.ImageSize4K {
				t.Errorf("GenerateImage() = %+v, want prompt and size carried over", img)
			}
		})
	}
}

// findObject returns the first JSON object stored under key anywhere in v.
func findObject(v any, key string) map[string]any {
	switch v := v.(type) {
	case map[string]any:
		if obj, ok := v[key].(map[string]any); ok {
			return obj
		}
		for _, child := range v {
			if obj := findObject(child, key); obj != nil {
				return obj
			}
		}
	case []any:
		for _, child := range v {
			if obj := findObject(child, key); obj != nil {
				return obj
			}
		}
	}
	return nil
}

func geminiChunk(text string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
}

func TestGeminiChat(t *testing.T) {
	tests := []struct {
		name          string
		events        []string
		wantFragments []string
		wantErr       string
	}{
		{
			name:          "Stream",
			events:        []string{geminiChunk("Hello, "), geminiChunk("world!")},
			wantFragments: []string{"Hello, ", "world!"},
		},
		{
			name: "Stream error after a fragment",
			events: []string{
				geminiChunk("Partial"),
				"{\"error\":{\"code\":500,\"message\":\"backend exploded\",\"status\":\"INTERNAL\"}}\n\n",
			},
			wantFragments: []string{"Partial"},
			wantErr:       "backend exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantSuffix := "/models/" + services.DefaultGeminiChatModel + ":streamGenerateContent"
				if !strings.HasSuffix(r.URL.Path, wantSuffix) {
					t.Errorf("request path = %s, want suffix %s", r.URL.Path, wantSuffix)
				}
				if got := r.Header.Get("X-Goog-Api-Key"); got != "k" {
					t.Errorf("api key header = %q, want k", got)
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
				w.Header().Set("Content-Type", "text/event-stream")
				for _, ev := range tt.events {
					fmt.Fprint(w, ev)
				}
			}))
			defer srv.Close()

			g := services.NewGemini("", "", "be nice", srv.URL, staticKey("k"), discardLogger())
			fragments, err := collect(g.Chat(context.Background(), testHistory, "How are you?"))

			if tt.wantErr == "" && err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("Chat() error = %v, want %q", err, tt.wantErr)
			}
			if strings.Join(fragments, "|") != strings.Join(tt.wantFragments, "|") {
				t.Errorf("Chat() fragments = %q, want %q", fragments, tt.wantFragments)
			}

			contents, ok := body["contents"].([]any)
			if !ok {
				t.Fatalf("request has no contents: %v", body)
			}
			wantTurns := [][2]string{{"user", "Hi"}, {"model", "Hello"}, {"user", "How are you?"}}
			if len(contents) != len(wantTurns) {
				t.Fatalf("contents = %v, want %d turns without the empty one", contents, len(wantTurns))
			}
			for i, c := range contents {
				content := c.(map[string]any)
				parts := content["parts"].([]any)
				text := parts[0].(map[string]any)["text"]
				if content["role"] != wantTurns[i][0] || text != wantTurns[i][1] {
					t.Errorf("contents[%d] = %v, want %v", i, content, wantTurns[i])
				}
			}
			if findObject(body, "systemInstruction") == nil {
				t.Errorf("request = %v, want a system instruction", body)
			}
		})
	}
}

func TestGeminiGenerateImage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
	}{
		{
			name:    "Image",
			body:    `{"candidates":[{"content":{"role":"model","parts":[{"text":"Here you go"},{"inlineData":{"mimeType":"image/png","data":"AAAA"}}]}}]}`,
			wantURL: "data:image/png;base64,AAAA",
		},
		{
			name: "No image",
			body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"I can't draw that"}]}}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantSuffix := "/models/" + services.DefaultGeminiImageModel + ":generateContent"
				if !strings.HasSuffix(r.URL.Path, wantSuffix) {
					t.Errorf("request path = %s, want suffix %s", r.URL.Path, wantSuffix)
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			g := services.NewGemini("", "", "", srv.URL, staticKey("k"), discardLogger())
			img, err := g.GenerateImage(context.Background(), "a fox", models.ImageSize2K)
			if err != nil {
				t.Fatalf("GenerateImage() error = %v", err)
			}

			imageConfig := findObject(req, "imageConfig")
			if imageConfig["imageSize"] != "2K" || imageConfig["aspectRatio"] != "1:1" {
				t.Errorf("imageConfig = %v, want 2K at 1:1", imageConfig)
			}

			if tt.wantURL == "" {
				if img != nil {
					t.Errorf("GenerateImage() = %+v, want nil", img)
				}
				return
			}
			if img == nil || img.URL != tt.wantURL {
				t.Fatalf("GenerateImage() = %+v, want URL %s", img, tt.wantURL)
			}
			if img.Prompt != "a fox" || img.Size != models.ImageSize2K {
				t.Errorf("GenerateImage() = %+v, want prompt and size carried over", img)
			}
		})
	}
}
