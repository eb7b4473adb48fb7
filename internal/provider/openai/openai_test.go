package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/pkg/models"
)

func testModels() *models.ModelSet {
	set, _ := models.DefaultRegistry().Get(models.ProviderOpenAI)
	return set
}

func pngImage(t *testing.T) *models.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return &models.Image{Data: buf.Bytes(), MIMEType: "image/png"}
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := New(&provider.Config{APIKey: "test-key", BaseURL: server.URL}, testModels())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20},
	})
	return string(b)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *provider.Config
		wantErr error
	}{
		{"valid config", &provider.Config{APIKey: "test-key"}, nil},
		{"empty API key", &provider.Config{}, provider.ErrAPIKeyRequired},
		{"custom base URL", &provider.Config{APIKey: "k", BaseURL: "https://proxy.example.com/v1/"}, nil},
		{"custom timeout", &provider.Config{APIKey: "k", TimeoutSec: 5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg, testModels())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && g.Name() != models.ProviderOpenAI {
				t.Errorf("Name() = %s", g.Name())
			}
		})
	}
}

func TestGateway_ModelFor(t *testing.T) {
	g, _ := New(&provider.Config{APIKey: "k"}, testModels())
	if got := g.ModelFor(models.OperationEdit); got != "gpt-image-1" {
		t.Errorf("ModelFor(edit) = %s", got)
	}
}

func TestGateway_SuggestCaptions(t *testing.T) {
	var gotReq chatRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(chatReply(`{"captions":["one","two"]}`)))
	})

	captions, err := g.SuggestCaptions(context.Background(), pngImage(t))
	if err != nil {
		t.Fatalf("SuggestCaptions() error = %v", err)
	}
	if !reflect.DeepEqual(captions, []string{"one", "two"}) {
		t.Errorf("captions = %v", captions)
	}

	if gotReq.Model != "gpt-5-mini" {
		t.Errorf("model = %s", gotReq.Model)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.JSONSchema.Name != "meme_captions" {
		t.Errorf("response_format = %+v", gotReq.ResponseFormat)
	}
	content := gotReq.Messages[0].Content
	if content[0].Text != provider.CaptionPrompt {
		t.Errorf("prompt = %q", content[0].Text)
	}
	if !strings.HasPrefix(content[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image url = %.40s", content[1].ImageURL.URL)
	}
}

func TestGateway_SuggestCaptionsFallback(t *testing.T) {
	replies := []string{
		chatReply("I cannot help with that."),
		`{"choices": []}`,
		`not json`,
	}

	for _, reply := range replies {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(reply))
		})

		captions, err := g.SuggestCaptions(context.Background(), pngImage(t))
		if err != nil {
			t.Fatalf("SuggestCaptions() error = %v", err)
		}
		if !reflect.DeepEqual(captions, provider.FallbackCaptions()) {
			t.Errorf("captions = %v, want fallback", captions)
		}
	}
}

func TestGateway_SuggestCaptionsTransportError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := g.SuggestCaptions(context.Background(), pngImage(t))
	if !errors.Is(err, provider.ErrCaptionsFailed) {
		t.Fatalf("error = %v, want %v", err, provider.ErrCaptionsFailed)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error = %v, want API message", err)
	}
}

func TestGateway_AnalyzeImage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		reply   string
		want    *models.AnalysisResult
		wantErr error
	}{
		{
			name:   "valid",
			status: http.StatusOK,
			reply:  chatReply(`{"description":"A dog on a couch","vibe":"cozy","tags":["dog","couch","dog"]}`),
			want:   &models.AnalysisResult{Description: "A dog on a couch", Vibe: "cozy", Tags: []string{"dog", "couch"}},
		},
		{
			name:    "missing tags",
			status:  http.StatusOK,
			reply:   chatReply(`{"description":"A dog","vibe":"cozy"}`),
			wantErr: provider.ErrMalformedResponse,
		},
		{
			name:    "no choices",
			status:  http.StatusOK,
			reply:   `{"choices":[]}`,
			wantErr: provider.ErrMalformedResponse,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			reply:   `oops`,
			wantErr: provider.ErrAnalysisFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotModel string
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				var req chatRequest
				json.NewDecoder(r.Body).Decode(&req)
				gotModel = req.Model
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.reply))
			})

			got, err := g.AnalyzeImage(context.Background(), pngImage(t))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AnalyzeImage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AnalyzeImage() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AnalyzeImage() = %+v, want %+v", got, tt.want)
			}
			if gotModel != "gpt-5" {
				t.Errorf("model = %s", gotModel)
			}
		})
	}
}

func TestGateway_EditImage(t *testing.T) {
	edited := pngImage(t)
	b64 := base64.StdEncoding.EncodeToString(edited.Data)

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/edits" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		if r.FormValue("prompt") != "add a party hat" {
			t.Errorf("prompt = %q", r.FormValue("prompt"))
		}
		if r.FormValue("model") != "gpt-image-1" {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "image.png" {
			t.Errorf("filename = %s", hdr.Filename)
		}
		if data, _ := io.ReadAll(f); len(data) == 0 {
			t.Error("empty image part")
		}
		w.Write([]byte(`{"created":1,"data":[{"b64_json":"` + b64 + `"}]}`))
	})

	got, err := g.EditImage(context.Background(), pngImage(t), "  add a party hat ")
	if err != nil {
		t.Fatalf("EditImage() error = %v", err)
	}
	if got == nil || !bytes.Equal(got.Data, edited.Data) || got.MIMEType != "image/png" {
		t.Errorf("EditImage() = %+v", got)
	}
}

func TestGateway_EditImageNoImage(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"created":1,"data":[]}`))
	})

	got, err := g.EditImage(context.Background(), pngImage(t), "add a hat")
	if err != nil || got != nil {
		t.Errorf("EditImage() = %v, %v; want nil, nil", got, err)
	}
}

func TestGateway_EditImageErrors(t *testing.T) {
	called := false
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"safety system"}}`))
	})

	if _, err := g.EditImage(context.Background(), pngImage(t), "   "); !errors.Is(err, provider.ErrEmptyInstruction) {
		t.Errorf("EditImage(blank) error = %v", err)
	}
	if _, err := g.EditImage(context.Background(), nil, "hat"); !errors.Is(err, provider.ErrNoImageData) {
		t.Errorf("EditImage(nil) error = %v", err)
	}
	if called {
		t.Error("invalid input reached the API")
	}

	if _, err := g.EditImage(context.Background(), pngImage(t), "hat"); !errors.Is(err, provider.ErrEditFailed) {
		t.Errorf("EditImage() error = %v, want %v", err, provider.ErrEditFailed)
	}
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"image/jpeg": "image.jpg",
		"image/webp": "image.webp",
		"image/png":  "image.png",
		"image/gif":  "image.png",
	}
	for mime, want := range tests {
		if got := uploadName(mime); got != want {
			t.Errorf("uploadName(%s) = %s, want %s", mime, got, want)
		}
	}
}

func TestTruncateBase64InJSON(t *testing.T) {
	long := strings.Repeat("A", 500)
	body := []byte(`{"data":[{"b64_json":"` + long + `"}]}`)

	out := string(truncateBase64InJSON(body))
	if strings.Contains(out, long) {
		t.Error("b64_json was not truncated")
	}
	if !strings.Contains(out, "[truncated]") {
		t.Errorf("output = %s", out)
	}

	if got := truncateBase64InJSON([]byte("plain")); string(got) != "plain" {
		t.Errorf("non-JSON body changed: %s", got)
	}
}
