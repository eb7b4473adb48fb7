package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNoImageData      = errors.New("image data is required")
	ErrNotImage         = errors.New("content is not an image")
	ErrInvalidDataURI   = errors.New("invalid data URI")
	ErrEmptyInstruction = errors.New("edit instruction cannot be empty")
	ErrInvalidFontSize  = errors.New("font size out of range")
	ErrIncompleteResult = errors.New("analysis result is incomplete")
)

const (
	// CanvasWidth is the fixed width of the rendering surface in canvas pixels.
	CanvasWidth = 600

	DefaultFontSize = 40
	MinFontSize     = 10
	MaxFontSize     = 120

	DefaultTextX = CanvasWidth / 2
	DefaultTextY = 100

	NewCaptionText = "New Caption"
	NewCaptionY    = 300

	MaxCaptions = 5

	ExportFilename = "meme-genius.png"
)

type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
)

func ValidProviders() []ProviderType {
	return []ProviderType{ProviderGemini, ProviderOpenAI}
}

func (p ProviderType) IsValid() bool {
	return slices.Contains(ValidProviders(), p)
}

func (p ProviderType) String() string {
	return string(p)
}

// Image is an encoded raster image together with its media type.
type Image struct {
	Data     []byte
	MIMEType string
}

// NewImage wraps raw bytes, sniffing the media type from the content.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrNoImageData
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	return &Image{Data: data, MIMEType: mt.String()}, nil
}

func (i *Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

func (i *Image) Size() int {
	return len(i.Data)
}

// ParseDataURI decodes a base64 data URI. A bare base64 payload without the
// "data:" header is accepted too, with the media type sniffed from content.
func ParseDataURI(uri string) (*Image, error) {
	header, payload, found := strings.Cut(uri, ",")
	if !found {
		payload = header
		header = ""
	}

	var mimeType string
	if header != "" {
		if !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: unsupported header %q", ErrInvalidDataURI, header)
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}

	if mimeType == "" {
		return NewImage(data)
	}
	if len(data) == 0 {
		return nil, ErrNoImageData
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// TextLayer is a caption overlay. X and Y locate the horizontal center and the
// baseline of the first line in canvas pixel space.
type TextLayer struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize int     `json:"fontSize"`
}

func (l TextLayer) Lines() []string {
	return strings.Split(l.Content, "\n")
}

func ValidateFontSize(size int) error {
	if size < MinFontSize || size > MaxFontSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidFontSize, size, MinFontSize, MaxFontSize)
	}
	return nil
}

type AnalysisResult struct {
	Description string   `json:"description"`
	Vibe        string   `json:"vibe"`
	Tags        []string `json:"tags"`
}

func (a *AnalysisResult) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(a.Vibe) == "" {
		missing = append(missing, "vibe")
	}
	if a.Tags == nil {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteResult, strings.Join(missing, ", "))
	}
	return nil
}

// Normalize trims fields and reduces tags to a set, keeping first occurrences.
func (a *AnalysisResult) Normalize() {
	a.Description = strings.TrimSpace(a.Description)
	a.Vibe = strings.TrimSpace(a.Vibe)

	seen := make(map[string]bool, len(a.Tags))
	tags := make([]string, 0, len(a.Tags))
	for _, tag := range a.Tags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		tags = append(tags, tag)
	}
	a.Tags = tags
}

type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the on-screen rectangle a canvas is displayed in.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
