package services

import (
	"testing"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"google.golang.org/genai"
)

func TestGeminiHistory(t *testing.T) {
	got := geminiHistory([]models.Turn{
		{Role: models.RoleUser, Text: "Hi"},
		{Role: models.RoleModel, Text: ""},
		{Role: models.RoleModel, Text: "Hello"},
	})

	if len(got) != 2 {
		t.Fatalf("geminiHistory() len = %d, want 2", len(got))
	}
	if got[0].Role != string(genai.RoleUser) || got[0].Parts[0].Text != "Hi" {
		t.Errorf("geminiHistory()[0] = %+v", got[0])
	}
	if got[1].Role != string(genai.RoleModel) || got[1].Parts[0].Text != "Hello" {
		t.Errorf("geminiHistory()[1] = %+v", got[1])
	}
}

func TestGeminiImage(t *testing.T) {
	candidate := func(parts ...*genai.Part) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		}
	}

	tests := []struct {
		name    string
		res     *genai.GenerateContentResponse
		wantURL string
	}{
		{name: "Nil response"},
		{name: "No candidates", res: &genai.GenerateContentResponse{}},
		{name: "Text only", res: candidate(&genai.Part{Text: "I can't draw that"})},
		{
			name:    "Inline image",
			res:     candidate(&genai.Part{Text: "Here"}, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0, 0, 0}}}),
			wantURL: "data:image/png;base64,AAAA",
		},
		{
			name:    "Missing mime type",
			res:     candidate(&genai.Part{InlineData: &genai.Blob{Data: []byte{0, 0, 0}}}),
			wantURL: "data:image/png;base64,AAAA",
		},
		{
			name:    "Jpeg",
			res:     candidate(&genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: []byte{0, 0, 0}}}),
			wantURL: "data:image/jpeg;base64,AAAA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := geminiImage(tt.res)
			if tt.wantURL == "" {
				if img != nil {
					t.Errorf("geminiImage() = %+v, want nil", img)
				}
				return
			}
			if img == nil {
				t.Fatal("geminiImage() = nil")
			}
			if img.URL != tt.wantURL {
				t.Errorf("geminiImage().URL = %q, want %q", img.URL, tt.wantURL)
			}
		})
	}
}
