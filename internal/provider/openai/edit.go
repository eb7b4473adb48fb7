package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

type imagesResponse struct {
	Data []imageData `json:"data"`
}

type imageData struct {
	B64JSON string `json:"b64_json,omitempty"`
}

func (g *Gateway) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.Image, error) {
	if err := provider.ValidateImage(img); err != nil {
		return nil, err
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, provider.ErrEmptyInstruction
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	imagePart, err := writer.CreateFormFile("image", uploadName(img.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := imagePart.Write(img.Data); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}

	fields := [][2]string{
		{"prompt", instruction},
		{"model", g.models.Edit},
		{"n", "1"},
		{"output_format", "png"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/edits", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	respBody, err := g.post(httpReq, provider.ErrEditFailed)
	if err != nil {
		return nil, err
	}

	var apiResp imagesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", provider.ErrEditFailed, err)
	}

	for _, d := range apiResp.Data {
		if d.B64JSON == "" {
			continue
		}
		data, err := decodeB64(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
		}
		edited, err := models.NewImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
		}
		return edited, nil
	}

	g.logger.Debug("edit reply contained no image")
	return nil, nil
}

func uploadName(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "image.jpg"
	case "image/webp":
		return "image.webp"
	default:
		return "image.png"
	}
}
