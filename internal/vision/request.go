// Package vision packages processed photos as OpenAI-compatible chat
// requests. It never calls a provider; callers send the request themselves.
package vision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/sashabaranov/go-openai"
)

const DefaultPrompt = "Analyze this plant photo. Identify the strain if possible, assess plant health, " +
	"and list any visible deficiencies, pests or diseases with their severity."

var ErrEmptyImage = errors.New("processed image has no data url")

type Config struct {
	Model     string
	Detail    string
	MaxTokens int
}

// acceptedFormats are the encodings vision endpoints take as image_url input.
var acceptedFormats = map[pipeline.Format]bool{
	pipeline.FormatJPEG: true,
	pipeline.FormatPNG:  true,
	pipeline.FormatWEBP: true,
	pipeline.FormatGIF:  true,
}

// ImagePart wraps one processed image as a chat message part.
func ImagePart(result pipeline.Result, detail string) (openai.ChatMessagePart, error) {
	if strings.TrimSpace(result.DataURL) == "" {
		return openai.ChatMessagePart{}, ErrEmptyImage
	}
	if !acceptedFormats[result.Metadata.Format] {
		return openai.ChatMessagePart{}, pipeline.UnsupportedFormatError("vision image part", result.Metadata.Format.String())
	}

	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    result.DataURL,
			Detail: parseDetail(detail),
		},
	}, nil
}

// BuildRequest returns a single-turn request with the prompt followed by
// every image in order.
func BuildRequest(cfg Config, prompt string, results ...pipeline.Result) (openai.ChatCompletionRequest, error) {
	if len(results) == 0 {
		return openai.ChatCompletionRequest{}, ErrEmptyImage
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	parts := make([]openai.ChatMessagePart, 0, len(results)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt,
	})
	for i, result := range results {
		part, err := ImagePart(result, cfg.Detail)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("image %d: %w", i, err)
		}
		parts = append(parts, part)
	}

	model := cfg.Model
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4o
	}

	return openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	}, nil
}

func parseDetail(detail string) openai.ImageURLDetail {
	switch strings.ToLower(strings.TrimSpace(detail)) {
	case "low":
		return openai.ImageURLDetailLow
	case "auto":
		return openai.ImageURLDetailAuto
	default:
		return openai.ImageURLDetailHigh
	}
}
