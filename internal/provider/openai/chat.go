package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatChoice struct {
	Message      chatMessageOut `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type chatMessageOut struct {
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Strict structured outputs require an object at the root.
var captionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "captions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["captions"],
  "additionalProperties": false
}`)

var analysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "description": {"type": "string"},
    "vibe": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["description", "vibe", "tags"],
  "additionalProperties": false
}`)

var errNoChoices = errors.New("no response choices")

func (g *Gateway) SuggestCaptions(ctx context.Context, img *models.Image) ([]string, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}

	content, err := g.complete(ctx, g.models.Captions, provider.CaptionPrompt, img, "meme_captions", captionSchema, provider.ErrCaptionsFailed)
	if err != nil {
		if errors.Is(err, errNoChoices) || errors.Is(err, provider.ErrMalformedResponse) {
			g.logger.Warn("using fallback captions", "err", err)
			return provider.FallbackCaptions(), nil
		}
		return nil, err
	}
	return provider.CaptionsOrFallback(content, g.logger), nil
}

func (g *Gateway) AnalyzeImage(ctx context.Context, img *models.Image) (*models.AnalysisResult, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}

	content, err := g.complete(ctx, g.models.Analysis, provider.AnalysisPrompt, img, "image_analysis", analysisSchema, provider.ErrAnalysisFailed)
	if err != nil {
		if errors.Is(err, errNoChoices) {
			return nil, fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
		}
		return nil, err
	}
	return provider.ParseAnalysis(content)
}

func (g *Gateway) complete(ctx context.Context, model, prompt string, img *models.Image, schemaName string, schema json.RawMessage, failure error) (string, error) {
	chatReq := &chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []chatContent{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: img.DataURI(), Detail: "high"}},
				},
			},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	}

	httpReq, err := jsonRequest(ctx, g.baseURL+"/chat/completions", chatReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", failure, err)
	}

	body, err := g.post(httpReq, failure)
	if err != nil {
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", provider.ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errNoChoices
	}

	if chatResp.Usage != nil {
		g.logger.Debug("usage", "model", model,
			"input_tokens", chatResp.Usage.PromptTokens,
			"output_tokens", chatResp.Usage.CompletionTokens)
	}

	return chatResp.Choices[0].Message.Content, nil
}
