package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/manash/memegen/pkg/models"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrAPIKeyRequired    = errors.New("API key is required")
	ErrMalformedResponse = errors.New("malformed AI response")
	ErrCaptionsFailed    = errors.New("caption suggestion failed")
	ErrAnalysisFailed    = errors.New("image analysis failed")
	ErrEditFailed        = errors.New("image edit failed")

	ErrEmptyInstruction = models.ErrEmptyInstruction
	ErrNoImageData      = models.ErrNoImageData
)

// Gateway is the stateless facade over a generative AI backend.
type Gateway interface {
	Name() models.ProviderType
	SuggestCaptions(ctx context.Context, img *models.Image) ([]string, error)
	AnalyzeImage(ctx context.Context, img *models.Image) (*models.AnalysisResult, error)
	// EditImage returns nil, nil when the backend replied without an image.
	EditImage(ctx context.Context, img *models.Image, instruction string) (*models.Image, error)
}

// ModelReporter is implemented by gateways that can name the model they use
// for an operation.
type ModelReporter interface {
	ModelFor(op models.Operation) string
}

type Config struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int

	CaptionModel  string
	AnalysisModel string
	EditModel     string

	Logger *log.Logger
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(io.Discard)
}

// Constructor builds a gateway from its config and resolved model set.
type Constructor func(cfg *Config, set *models.ModelSet) (Gateway, error)

type Factory struct {
	registry     *models.ModelRegistry
	configs      map[models.ProviderType]*Config
	constructors map[models.ProviderType]Constructor
}

func NewFactory(registry *models.ModelRegistry) *Factory {
	return &Factory{
		registry:     registry,
		configs:      make(map[models.ProviderType]*Config),
		constructors: make(map[models.ProviderType]Constructor),
	}
}

func (f *Factory) Configure(providerType models.ProviderType, cfg *Config) {
	f.configs[providerType] = cfg
}

func (f *Factory) Register(providerType models.ProviderType, ctor Constructor) {
	f.constructors[providerType] = ctor
}

// Models resolves the registry's model set for a provider with any config
// overrides applied.
func (f *Factory) Models(providerType models.ProviderType) (*models.ModelSet, error) {
	set, ok := f.registry.Get(providerType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	if cfg, ok := f.configs[providerType]; ok {
		set.Override(cfg.CaptionModel, cfg.AnalysisModel, cfg.EditModel)
	}
	return set, nil
}

func (f *Factory) Create(providerType models.ProviderType) (Gateway, error) {
	ctor, ok := f.constructors[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrProviderNotFound, providerType, f.ListProviders())
	}

	set, err := f.Models(providerType)
	if err != nil {
		return nil, err
	}

	cfg, ok := f.configs[providerType]
	if !ok {
		cfg = &Config{}
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set %s", ErrAPIKeyRequired, set.APIKeyEnv)
	}

	return ctor(cfg, set)
}

// CreateOrUnavailable never fails: when the backend cannot be built the
// returned gateway reports the reason on every call.
func (f *Factory) CreateOrUnavailable(providerType models.ProviderType) Gateway {
	g, err := f.Create(providerType)
	if err != nil {
		if cfg, ok := f.configs[providerType]; ok {
			cfg.logger().Warn("AI features unavailable", "provider", providerType, "err", err)
		}
		return NewUnavailable(providerType, err)
	}
	return g
}

func (f *Factory) ListProviders() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ValidateImage is the common precondition of every gateway call.
func ValidateImage(img *models.Image) error {
	if img == nil || len(img.Data) == 0 {
		return ErrNoImageData
	}
	return nil
}
