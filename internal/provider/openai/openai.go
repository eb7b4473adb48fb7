package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultTimeout   = 120 * time.Second
	maxResponseBytes = 64 << 20
)

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Gateway talks to the OpenAI REST API: chat completions with image input
// for captions and analysis, the image edit endpoint for edits.
type Gateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	models     *models.ModelSet
	logger     *log.Logger
}

func New(cfg *provider.Config, set *models.ModelSet) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Gateway{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		models: set,
		logger: logger.WithPrefix("openai"),
	}, nil
}

// Constructor adapts New to provider.Factory.
func Constructor(cfg *provider.Config, set *models.ModelSet) (provider.Gateway, error) {
	return New(cfg, set)
}

func (g *Gateway) Name() models.ProviderType {
	return models.ProviderOpenAI
}

func (g *Gateway) ModelFor(op models.Operation) string {
	return g.models.ModelFor(op)
}

// post sends a prepared request and returns the body of a 200 response.
func (g *Gateway) post(req *http.Request, failure error) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	g.logRequest(req)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", failure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", failure, err)
	}

	g.logger.Debug("response",
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
		"body", string(truncateBase64InJSON(body)))

	if resp.StatusCode != http.StatusOK {
		var wrapped struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
			return nil, fmt.Errorf("%w: %s", failure, wrapped.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", failure, resp.StatusCode)
	}

	return body, nil
}

func (g *Gateway) logRequest(req *http.Request) {
	headers := make([]string, 0, len(req.Header))
	for key, values := range req.Header {
		for _, value := range values {
			if strings.EqualFold(key, "authorization") {
				value = "[REDACTED]"
			}
			headers = append(headers, key+": "+value)
		}
	}
	g.logger.Debug("request", "method", req.Method, "url", req.URL.String(), "headers", headers)
}

func jsonRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func decodeB64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return data, nil
}

func truncateBase64InJSON(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	truncateBase64Fields(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

func truncateBase64Fields(data map[string]interface{}) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if key == "b64_json" && len(v) > 100 {
				data[key] = v[:100] + "... [truncated]"
			}
		case map[string]interface{}:
			truncateBase64Fields(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					truncateBase64Fields(m)
				}
			}
		}
	}
}
