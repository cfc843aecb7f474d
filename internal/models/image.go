package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ImageSize selects the output resolution of a generated image.
type ImageSize string

// ImageStatus is the state of the image request currently tracked by the studio.
type ImageStatus string

const (
	ImageSize1K ImageSize = "1K"
	ImageSize2K ImageSize = "2K"
	ImageSize4K ImageSize = "4K"

	// DefaultImageSize is used when the caller doesn't pick a size.
	DefaultImageSize = ImageSize1K

	// AspectRatio is requested for every image; the studio only produces square images.
	AspectRatio = "1:1"

	ImageStatusIdle               ImageStatus = "idle"
	ImageStatusCheckingCredential ImageStatus = "checking-credential"
	ImageStatusPending            ImageStatus = "pending"
	ImageStatusSuccess            ImageStatus = "success"
	ImageStatusFailure            ImageStatus = "failure"
)

// ImageSizes lists the selectable sizes in display order.
var ImageSizes = []ImageSize{ImageSize1K, ImageSize2K, ImageSize4K}

// ImageRequest describes the one image generation attempt the studio tracks at a time.
type ImageRequest struct {
	Prompt string
	Size   ImageSize
	Status ImageStatus

	// Error would be filled if Status is ImageStatusFailure.
	Error string
}

// GeneratedImage is a successfully generated image, ready for direct display.
type GeneratedImage struct {
	// URL is a self-contained data URI.
	URL       string
	Prompt    string
	Size      ImageSize
	CreatedAt time.Time
}

// ParseImageSize validates s as one of the selectable sizes. An empty string yields DefaultImageSize.
func ParseImageSize(s string) (ImageSize, error) {
	if s == "" {
		return DefaultImageSize, nil
	}
	for _, size := range ImageSizes {
		if string(size) == s {
			return size, nil
		}
	}
	return "", fmt.Errorf("unknown image size %q", s)
}

// Terminal reports whether the status ends a request.
func (s ImageStatus) Terminal() bool {
	return s == ImageStatusSuccess || s == ImageStatusFailure
}

// DataURI encodes data as a base64 data URI with the given MIME type.
func DataURI(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURI decodes a base64 data URI produced by DataURI, returning its MIME type and payload.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errors.New("not a data uri")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data uri has no payload")
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, errors.New("data uri is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data uri payload: %w", err)
	}
	return mimeType, data, nil
}
