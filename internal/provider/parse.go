package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/manash/memegen/pkg/models"
)

const (
	CaptionPrompt  = "Analyze this image and provide 5 funny, clever meme captions that are highly relevant to the context. Keep them short and punchy. Return as a JSON array of strings."
	AnalysisPrompt = "Provide a detailed technical and artistic analysis of this image. Describe what is happening, the mood, the lighting, and the potential cultural relevance. Return as JSON."
)

var fallbackCaptions = []string{
	"When the code works on the first try",
	"Me waiting for the server to restart",
	"POV: You forgot to commit",
	"Is this a feature or a bug?",
	"My brain at 3 AM",
}

// FallbackCaptions is the built-in list shown when the backend's caption
// reply cannot be understood.
func FallbackCaptions() []string {
	out := make([]string, len(fallbackCaptions))
	copy(out, fallbackCaptions)
	return out
}

// ParseCaptions accepts a JSON array of strings, optionally fenced as
// markdown or wrapped in {"captions": [...]}.
func ParseCaptions(raw string) ([]string, error) {
	body := stripFences(raw)

	var list []string
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		var wrapped struct {
			Captions []string `json:"captions"`
		}
		if werr := json.Unmarshal([]byte(body), &wrapped); werr != nil || wrapped.Captions == nil {
			return nil, fmt.Errorf("%w: captions are not a JSON string array", ErrMalformedResponse)
		}
		list = wrapped.Captions
	}

	captions := make([]string, 0, models.MaxCaptions)
	for _, c := range list {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		captions = append(captions, c)
		if len(captions) == models.MaxCaptions {
			break
		}
	}
	if len(captions) == 0 {
		return nil, fmt.Errorf("%w: no captions", ErrMalformedResponse)
	}
	return captions, nil
}

// CaptionsOrFallback parses a caption reply, substituting the fallback list
// when the reply is malformed.
func CaptionsOrFallback(raw string, logger *log.Logger) []string {
	captions, err := ParseCaptions(raw)
	if err != nil {
		if logger != nil {
			logger.Warn("using fallback captions", "err", err)
		}
		return FallbackCaptions()
	}
	return captions
}

// ParseAnalysis decodes and validates an analysis reply.
func ParseAnalysis(raw string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	result.Normalize()
	return &result, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
