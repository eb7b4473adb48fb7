package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/manash/memegen/pkg/models"
)

func solidImage(t *testing.T, w, h int, c color.Color) *models.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return &models.Image{Data: buf.Bytes(), MIMEType: "image/png"}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

var gray = color.RGBA{R: 128, G: 128, B: 128, A: 255}

func TestCanvasSize(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		wantH      int
	}{
		{"landscape", 300, 200, 400},
		{"portrait", 600, 900, 900},
		{"truncates", 1000, 333, 199},
		{"truncates near whole", 7, 5, 428},
		{"tiny height", 6000, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CanvasSize(tt.srcW, tt.srcH)
			if w != models.CanvasWidth || h != tt.wantH {
				t.Errorf("CanvasSize(%d, %d) = %d x %d, want %d x %d", tt.srcW, tt.srcH, w, h, models.CanvasWidth, tt.wantH)
			}
		})
	}
}

func TestRender_Dimensions(t *testing.T) {
	r := newRenderer(t)

	c, err := r.Render(solidImage(t, 300, 200, gray), nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if c.Width != 600 || c.Height != 400 {
		t.Errorf("Render() size = %dx%d, want 600x400", c.Width, c.Height)
	}
	if c.Image.Bounds().Dx() != 600 || c.Image.Bounds().Dy() != 400 {
		t.Errorf("Image bounds = %v", c.Image.Bounds())
	}
}

func TestRenderer_Size(t *testing.T) {
	r := newRenderer(t)

	w, h, err := r.Size(solidImage(t, 200, 300, gray))
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if w != 600 || h != 900 {
		t.Errorf("Size() = %dx%d, want 600x900", w, h)
	}

	if _, _, err := r.Size(nil); !errors.Is(err, ErrNoImage) {
		t.Errorf("Size(nil) error = %v, want %v", err, ErrNoImage)
	}
}

func TestRender_Deterministic(t *testing.T) {
	r := newRenderer(t)
	img := solidImage(t, 300, 200, gray)
	layers := []models.TextLayer{
		{ID: "a", Content: "top text", X: 300, Y: 100, FontSize: 40},
		{ID: "b", Content: "bottom\ntext", X: 250, Y: 300, FontSize: 60},
	}

	first, err := r.Render(img, layers)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	second, err := r.Render(img, layers)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !bytes.Equal(first.Image.Pix, second.Image.Pix) {
		t.Error("Render() is not deterministic for identical inputs")
	}

	// A fresh renderer (cold caches) must agree too.
	third, err := newRenderer(t).Render(img, layers)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !bytes.Equal(first.Image.Pix, third.Image.Pix) {
		t.Error("Render() output depends on cache state")
	}
}

func TestRender_TextIsUpperCasedWithWhiteFillAndBlackStroke(t *testing.T) {
	r := newRenderer(t)
	img := solidImage(t, 300, 200, gray)

	lower, err := r.Render(img, []models.TextLayer{{Content: "top text", X: 300, Y: 100, FontSize: 40}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	upper, err := r.Render(img, []models.TextLayer{{Content: "TOP TEXT", X: 300, Y: 100, FontSize: 40}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !bytes.Equal(lower.Image.Pix, upper.Image.Pix) {
		t.Error("lower-case content rendered differently from upper-case content")
	}

	var white, black int
	for y := 60; y < 112; y++ {
		for x := 150; x < 450; x++ {
			c := upper.Image.RGBAAt(x, y)
			switch {
			case c.R > 240 && c.G > 240 && c.B > 240:
				white++
			case c.R < 15 && c.G < 15 && c.B < 15:
				black++
			}
		}
	}
	if white == 0 {
		t.Error("no white fill pixels found around the caption")
	}
	if black == 0 {
		t.Error("no black stroke pixels found around the caption")
	}

	// Far from any caption the background is untouched.
	if c := upper.Image.RGBAAt(10, 390); c.R < 120 || c.R > 136 || c.G < 120 || c.G > 136 {
		t.Errorf("background pixel = %v, want gray", c)
	}
}

func TestRender_MultiLineOffsetsByFontSize(t *testing.T) {
	r := newRenderer(t)
	img := solidImage(t, 300, 200, gray)

	c, err := r.Render(img, []models.TextLayer{{Content: "A\nB", X: 300, Y: 100, FontSize: 50}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	hasInk := func(y0, y1 int) bool {
		for y := y0; y < y1; y++ {
			for x := 250; x < 350; x++ {
				p := c.Image.RGBAAt(x, y)
				if p.R > 240 && p.G > 240 && p.B > 240 {
					return true
				}
			}
		}
		return false
	}

	if !hasInk(60, 100) {
		t.Error("first line not drawn above baseline y=100")
	}
	if !hasInk(110, 150) {
		t.Error("second line not drawn above baseline y=150")
	}
}

func TestRender_Errors(t *testing.T) {
	r := newRenderer(t)

	if _, err := r.Render(nil, nil); !errors.Is(err, ErrNoImage) {
		t.Errorf("Render(nil) error = %v, want %v", err, ErrNoImage)
	}

	bad := &models.Image{Data: []byte("not really a png"), MIMEType: "image/png"}
	if _, err := r.Render(bad, nil); !errors.Is(err, ErrDecodeImage) {
		t.Errorf("Render(bad) error = %v, want %v", err, ErrDecodeImage)
	}
}

func TestMeasureText(t *testing.T) {
	r := newRenderer(t)

	if got := r.MeasureText("", 40); got != 0 {
		t.Errorf("MeasureText(\"\") = %v, want 0", got)
	}
	if got := r.MeasureText("HELLO", 0); got != 0 {
		t.Errorf("MeasureText(size 0) = %v, want 0", got)
	}

	small := r.MeasureText("HELLO", 20)
	large := r.MeasureText("HELLO", 80)
	if small <= 0 {
		t.Fatalf("MeasureText() = %v, want > 0", small)
	}
	if large <= small*3 {
		t.Errorf("MeasureText() should scale with font size: 20px=%v 80px=%v", small, large)
	}
	if longer := r.MeasureText("HELLO WORLD", 20); longer <= small {
		t.Errorf("longer text measured %v, want > %v", longer, small)
	}
}

func TestCanvas_PNG(t *testing.T) {
	r := newRenderer(t)
	c, err := r.Render(solidImage(t, 120, 60, gray), nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	data, err := c.PNG()
	if err != nil {
		t.Fatalf("PNG() error = %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if decoded.Bounds().Dx() != 600 || decoded.Bounds().Dy() != 300 {
		t.Errorf("decoded size = %v, want 600x300", decoded.Bounds())
	}
}
