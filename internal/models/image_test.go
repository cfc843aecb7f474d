package models_test

import (
	"bytes"
	"testing"

	"github.com/MegaGrindStone/xai-studio/internal/models"
)

func TestDataURI(t *testing.T) {
	got := models.DataURI("image/png", []byte{0, 0, 0})
	want := "data:image/png;base64,AAAA"
	if got != want {
		t.Errorf("DataURI() = %q, want %q", got, want)
	}

	mimeType, data, err := models.ParseDataURI(got)
	if err != nil {
		t.Fatalf("ParseDataURI() error = %v", err)
	}
	if mimeType != "image/png" {
		t.Errorf("ParseDataURI() mime = %q, want image/png", mimeType)
	}
	if !bytes.Equal(data, []byte{0, 0, 0}) {
		t.Errorf("ParseDataURI() data = %v, want [0 0 0]", data)
	}
}

func TestParseDataURIErrors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{name: "Not a data uri", uri: "https://example.com/a.png"},
		{name: "No payload", uri: "data:image/png;base64"},
		{name: "Not base64", uri: "data:image/png,AAAA"},
		{name: "Bad payload", uri: "data:image/png;base64,@@@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := models.ParseDataURI(tt.uri); err == nil {
				t.Errorf("ParseDataURI(%q) expected error", tt.uri)
			}
		})
	}
}

func TestParseImageSize(t *testing.T) {
	tests := []struct {
		in      string
		want    models.ImageSize
		wantErr bool
	}{
		{in: "", want: models.ImageSize1K},
		{in: "1K", want: models.ImageSize1K},
		{in: "2K", want: models.ImageSize2K},
		{in: "4K", want: models.ImageSize4K},
		{in: "8K", wantErr: true},
		{in: "1k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := models.ParseImageSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseImageSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseImageSize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
