package gemini

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/genai"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

type mockGenerator struct {
	resp *genai.GenerateContentResponse
	err  error

	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	calls       int
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	m.gotModel = model
	m.gotContents = contents
	m.gotConfig = config
	return m.resp, m.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func newTestGateway(gen contentGenerator) *Gateway {
	set, _ := models.DefaultRegistry().Get(models.ProviderGemini)
	return newWithGenerator(gen, set, nil)
}

var testImage = &models.Image{Data: []byte("fake-png-bytes"), MIMEType: "image/png"}

func TestNew_RequiresKey(t *testing.T) {
	set, _ := models.DefaultRegistry().Get(models.ProviderGemini)
	if _, err := New(&provider.Config{}, set); !errors.Is(err, provider.ErrAPIKeyRequired) {
		t.Errorf("New() error = %v, want %v", err, provider.ErrAPIKeyRequired)
	}
}

func TestGateway_SuggestCaptions(t *testing.T) {
	gen := &mockGenerator{resp: textResponse(`["Caption one", " Caption two "]`)}
	g := newTestGateway(gen)

	got, err := g.SuggestCaptions(context.Background(), testImage)
	if err != nil {
		t.Fatalf("SuggestCaptions() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Caption one", "Caption two"}) {
		t.Errorf("SuggestCaptions() = %v", got)
	}

	if gen.gotModel != "gemini-3-flash-preview" {
		t.Errorf("model = %s", gen.gotModel)
	}
	if gen.gotConfig == nil || gen.gotConfig.ResponseMIMEType != "application/json" {
		t.Errorf("config = %+v", gen.gotConfig)
	}
	if gen.gotConfig.ResponseSchema.Type != genai.TypeArray {
		t.Errorf("schema type = %v", gen.gotConfig.ResponseSchema.Type)
	}

	parts := gen.gotContents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "image/png" {
		t.Errorf("image part = %+v", parts[0])
	}
	if parts[1].Text != provider.CaptionPrompt {
		t.Errorf("prompt = %q", parts[1].Text)
	}
}

func TestGateway_SuggestCaptionsFallback(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"prose", textResponse("Sure! Here are captions: ...")},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"wrong type", textResponse(`{"caption": 1}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(&mockGenerator{resp: tt.resp})
			got, err := g.SuggestCaptions(context.Background(), testImage)
			if err != nil {
				t.Fatalf("SuggestCaptions() error = %v", err)
			}
			if !reflect.DeepEqual(got, provider.FallbackCaptions()) {
				t.Errorf("SuggestCaptions() = %v, want fallback", got)
			}
		})
	}
}

func TestGateway_TransportErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	g := newTestGateway(&mockGenerator{err: boom})
	ctx := context.Background()

	if _, err := g.SuggestCaptions(ctx, testImage); !errors.Is(err, provider.ErrCaptionsFailed) {
		t.Errorf("SuggestCaptions() error = %v", err)
	}
	if _, err := g.AnalyzeImage(ctx, testImage); !errors.Is(err, provider.ErrAnalysisFailed) {
		t.Errorf("AnalyzeImage() error = %v", err)
	}
	if _, err := g.EditImage(ctx, testImage, "hat"); !errors.Is(err, provider.ErrEditFailed) {
		t.Errorf("EditImage() error = %v", err)
	}
}

func TestGateway_AnalyzeImage(t *testing.T) {
	gen := &mockGenerator{resp: textResponse(`{"description":"A cat","vibe":"smug","tags":["cat","Cat","pets"]}`)}
	g := newTestGateway(gen)

	got, err := g.AnalyzeImage(context.Background(), testImage)
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	want := &models.AnalysisResult{Description: "A cat", Vibe: "smug", Tags: []string{"cat", "pets"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AnalyzeImage() = %+v, want %+v", got, want)
	}
	if gen.gotModel != "gemini-3-pro-preview" {
		t.Errorf("model = %s", gen.gotModel)
	}
	if req := gen.gotConfig.ResponseSchema.Required; !reflect.DeepEqual(req, []string{"description", "vibe", "tags"}) {
		t.Errorf("required = %v", req)
	}
}

func TestGateway_AnalyzeImageMalformed(t *testing.T) {
	g := newTestGateway(&mockGenerator{resp: textResponse(`{"description":"A cat"}`)})
	if _, err := g.AnalyzeImage(context.Background(), testImage); !errors.Is(err, provider.ErrMalformedResponse) {
		t.Errorf("AnalyzeImage() error = %v, want %v", err, provider.ErrMalformedResponse)
	}
}

func TestGateway_EditImage(t *testing.T) {
	out := []byte("edited-bytes")
	gen := &mockGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromText("Here you go"),
				genai.NewPartFromBytes(out, "image/png"),
			}, genai.RoleModel),
		}},
	}}
	g := newTestGateway(gen)

	got, err := g.EditImage(context.Background(), testImage, " add sunglasses ")
	if err != nil {
		t.Fatalf("EditImage() error = %v", err)
	}
	if got == nil || string(got.Data) != "edited-bytes" || got.MIMEType != "image/png" {
		t.Errorf("EditImage() = %+v", got)
	}
	if gen.gotModel != "gemini-2.5-flash-image" {
		t.Errorf("model = %s", gen.gotModel)
	}
	if gen.gotContents[0].Parts[1].Text != "add sunglasses" {
		t.Errorf("instruction = %q", gen.gotContents[0].Parts[1].Text)
	}
}

func TestGateway_EditImageNoImagePart(t *testing.T) {
	g := newTestGateway(&mockGenerator{resp: textResponse("I can't edit that.")})

	got, err := g.EditImage(context.Background(), testImage, "add a hat")
	if err != nil || got != nil {
		t.Errorf("EditImage() = %v, %v; want nil, nil", got, err)
	}
}

func TestGateway_InputValidation(t *testing.T) {
	gen := &mockGenerator{resp: textResponse("[]")}
	g := newTestGateway(gen)
	ctx := context.Background()

	if _, err := g.EditImage(ctx, testImage, "  "); !errors.Is(err, provider.ErrEmptyInstruction) {
		t.Errorf("EditImage(blank) error = %v", err)
	}
	if _, err := g.SuggestCaptions(ctx, nil); !errors.Is(err, provider.ErrNoImageData) {
		t.Errorf("SuggestCaptions(nil) error = %v", err)
	}
	if _, err := g.AnalyzeImage(ctx, &models.Image{}); !errors.Is(err, provider.ErrNoImageData) {
		t.Errorf("AnalyzeImage(empty) error = %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("invalid input reached the API %d times", gen.calls)
	}
}

func TestGateway_ModelFor(t *testing.T) {
	g := newTestGateway(&mockGenerator{})
	if g.Name() != models.ProviderGemini {
		t.Errorf("Name() = %s", g.Name())
	}
	if got := g.ModelFor(models.OperationCaptions); got != "gemini-3-flash-preview" {
		t.Errorf("ModelFor(captions) = %s", got)
	}
}
