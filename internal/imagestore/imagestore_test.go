package imagestore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manash/memegen/internal/security"
	"github.com/manash/memegen/pkg/models"
)

func TestMain(m *testing.M) {
	// httptest servers listen on loopback.
	security.SetSkipValidation(true)
	code := m.Run()
	security.SetSkipValidation(false)
	os.Exit(code)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestStore_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, pngBytes(t, 4, 3), 0644); err != nil {
		t.Fatal(err)
	}

	s := New()
	img, err := s.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}
	if !s.HasImage() {
		t.Error("HasImage() = false after load")
	}
	if s.Source() != path {
		t.Errorf("Source() = %q, want %q", s.Source(), path)
	}
}

func TestStore_LoadFromFileMissing(t *testing.T) {
	s := New()
	if _, err := s.LoadFromFile(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("LoadFromFile() expected error for missing file")
	}
	if s.HasImage() {
		t.Error("failed load must not install an image")
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, pngBytes(t, 4, 3), 0644); err != nil {
		t.Fatal(err)
	}

	img, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}
	if _, err := DecodeFile(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("DecodeFile() expected error for missing file")
	}
}

func TestStore_LoadFromReaderRejectsNonImage(t *testing.T) {
	s := New()
	_, err := s.LoadFromReader(strings.NewReader("just some notes"), "notes.txt")
	if !errors.Is(err, models.ErrNotImage) {
		t.Errorf("LoadFromReader() error = %v, want %v", err, models.ErrNotImage)
	}
	if s.HasImage() {
		t.Error("non-image upload replaced the current image")
	}
}

func TestStore_LoadFromReaderTooLarge(t *testing.T) {
	s := New()
	big := bytes.NewReader(make([]byte, MaxImageBytes+1))
	if _, err := s.LoadFromReader(big, "big.png"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("LoadFromReader() error = %v, want %v", err, ErrTooLarge)
	}
}

func TestStore_LoadFromURL(t *testing.T) {
	data := pngBytes(t, 6, 4)
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	s := New()
	img, err := s.LoadFromURL(context.Background(), server.URL+"/id/1011/600/400")
	if err != nil {
		t.Fatalf("LoadFromURL() error = %v", err)
	}
	if !bytes.Equal(img.Data, data) {
		t.Error("LoadFromURL() data mismatch")
	}

	// Second load is served from cache.
	if _, err := s.LoadFromURL(context.Background(), server.URL+"/id/1011/600/400"); err != nil {
		t.Fatalf("LoadFromURL() error = %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestStore_FetchErrorsWrapTemplateLoad(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/html":
			w.Write([]byte("<html><body>not an image</body></html>"))
		}
	}))
	defer server.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"not found", server.URL + "/missing"},
		{"not an image", server.URL + "/html"},
		{"unreachable", "http://127.0.0.1:1/none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			original := &models.Image{Data: pngBytes(t, 2, 2), MIMEType: "image/png"}
			if err := s.Replace(original, "seed"); err != nil {
				t.Fatal(err)
			}

			_, err := s.LoadFromURL(context.Background(), tt.url)
			if !errors.Is(err, ErrTemplateLoad) {
				t.Errorf("LoadFromURL() error = %v, want %v", err, ErrTemplateLoad)
			}
			if cur, _ := s.Current(); cur != original {
				t.Error("failed fetch changed the current image")
			}
		})
	}
}

func TestStore_FetchValidatesURL(t *testing.T) {
	security.SetSkipValidation(false)
	defer security.SetSkipValidation(true)

	s := New(WithStrictHosts(true))
	_, err := s.Fetch(context.Background(), "https://example.com/cat.png")
	if !errors.Is(err, ErrTemplateLoad) {
		t.Errorf("Fetch() error = %v, want %v", err, ErrTemplateLoad)
	}
}

func TestStore_FetchCollapsesConcurrentRequests(t *testing.T) {
	data := pngBytes(t, 3, 3)
	var hits int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write(data)
	}))
	defer server.Close()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Fetch(context.Background(), server.URL); err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestStore_ReplaceAndClear(t *testing.T) {
	s := New()
	if err := s.Replace(nil, "ai"); !errors.Is(err, models.ErrNoImageData) {
		t.Errorf("Replace(nil) error = %v, want %v", err, models.ErrNoImageData)
	}

	img := &models.Image{Data: pngBytes(t, 2, 2), MIMEType: "image/png"}
	if err := s.Replace(img, "ai edit"); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if cur, ok := s.Current(); !ok || cur != img {
		t.Error("Current() did not return replaced image")
	}

	s.Clear()
	if s.HasImage() || s.Source() != "" {
		t.Error("Clear() left state behind")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "meme-genius.png")
	if err := WriteFile(path, []byte("png")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "png" {
		t.Errorf("file content = %q", got)
	}
}

func TestGenerateFilename(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 16, 17, 0, time.UTC)
	tests := []struct {
		index int
		want  string
	}{
		{0, "meme-20260304-151617.png"},
		{1, "meme-20260304-151617-2.png"},
		{9, "meme-20260304-151617-10.png"},
	}
	for _, tt := range tests {
		if got := GenerateFilename(tt.index, ts); got != tt.want {
			t.Errorf("GenerateFilename(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}
