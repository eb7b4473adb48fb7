package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

const defaultTimeout = 120 * time.Second

// contentGenerator is the part of the genai client the gateway uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gateway struct {
	gen    contentGenerator
	set    *models.ModelSet
	logger *log.Logger
}

var captionsConfig = &genai.GenerateContentConfig{
	ResponseMIMEType: "application/json",
	ResponseSchema: &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeString},
	},
}

var analysisConfig = &genai.GenerateContentConfig{
	ResponseMIMEType: "application/json",
	ResponseSchema: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description": {Type: genai.TypeString},
			"vibe":        {Type: genai.TypeString},
			"tags": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"description", "vibe", "tags"},
	},
}

func New(cfg *provider.Config, set *models.ModelSet) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newWithGenerator(client.Models, set, cfg.Logger), nil
}

func newWithGenerator(gen contentGenerator, set *models.ModelSet, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Gateway{
		gen:    gen,
		set:    set,
		logger: logger.WithPrefix("gemini"),
	}
}

// Constructor adapts New to provider.Factory.
func Constructor(cfg *provider.Config, set *models.ModelSet) (provider.Gateway, error) {
	return New(cfg, set)
}

func (g *Gateway) Name() models.ProviderType {
	return models.ProviderGemini
}

func (g *Gateway) ModelFor(op models.Operation) string {
	return g.set.ModelFor(op)
}

func (g *Gateway) SuggestCaptions(ctx context.Context, img *models.Image) ([]string, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}

	resp, err := g.generate(ctx, g.set.Captions, img, provider.CaptionPrompt, captionsConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrCaptionsFailed, err)
	}
	return provider.CaptionsOrFallback(resp.Text(), g.logger), nil
}

func (g *Gateway) AnalyzeImage(ctx context.Context, img *models.Image) (*models.AnalysisResult, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}

	resp, err := g.generate(ctx, g.set.Analysis, img, provider.AnalysisPrompt, analysisConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrAnalysisFailed, err)
	}
	return provider.ParseAnalysis(resp.Text())
}

func (g *Gateway) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.Image, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, provider.ErrEmptyInstruction
	}

	resp, err := g.generate(ctx, g.set.Edit, img, instruction, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
	}

	blob := firstInlineImage(resp)
	if blob == nil {
		g.logger.Debug("edit reply contained no image", "text", resp.Text())
		return nil, nil
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		edited, err := models.NewImage(blob.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
		}
		return edited, nil
	}
	return &models.Image{Data: blob.Data, MIMEType: mimeType}, nil
}

func (g *Gateway) generate(ctx context.Context, model string, img *models.Image, text string, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, img.MIMEType),
			genai.NewPartFromText(text),
		}, genai.RoleUser),
	}

	start := time.Now()
	g.logger.Debug("request", "model", model, "image_bytes", len(img.Data), "mime", img.MIMEType)

	resp, err := g.gen.GenerateContent(ctx, model, contents, config)
	if err != nil {
		g.logger.Debug("request failed", "model", model, "elapsed", time.Since(start), "err", err)
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response")
	}

	g.logger.Debug("response", "model", model, "elapsed", time.Since(start), "candidates", len(resp.Candidates))
	return resp, nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}
