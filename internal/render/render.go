package render

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	_ "golang.org/x/image/webp"

	"github.com/manash/memegen/pkg/models"
)

var (
	ErrNoImage     = errors.New("no image to render")
	ErrDecodeImage = errors.New("failed to decode image")
)

// strokeSamples is the number of angular samples used to approximate the
// outline stroke around each glyph run.
const strokeSamples = 16

// Canvas is a rendered meme surface in canvas pixel space.
type Canvas struct {
	Image  *image.RGBA
	Width  int
	Height int
}

func (c *Canvas) Encode(w io.Writer) error {
	return imaging.Encode(w, c.Image, imaging.PNG)
}

func (c *Canvas) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type baseImage struct {
	key [sha256.Size]byte
	img *image.NRGBA
}

// Renderer draws an image and its caption layers. It is safe for concurrent
// use; font faces and the scaled base image are cached.
type Renderer struct {
	mu    sync.Mutex
	font  *truetype.Font
	faces map[int]font.Face
	base  *baseImage
}

func New() (*Renderer, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Renderer{
		font:  f,
		faces: make(map[int]font.Face),
	}, nil
}

// CanvasSize returns the surface size for a source image of the given size:
// fixed width, height scaled to keep the aspect ratio and truncated to whole
// pixels.
func CanvasSize(srcW, srcH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return models.CanvasWidth, 0
	}
	h := srcH * models.CanvasWidth / srcW
	if h < 1 {
		h = 1
	}
	return models.CanvasWidth, h
}

func (r *Renderer) Render(img *models.Image, layers []models.TextLayer) (*Canvas, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, ErrNoImage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	base, err := r.scaledBase(img)
	if err != nil {
		return nil, err
	}

	dc := gg.NewContextForImage(base)
	for _, layer := range layers {
		r.drawLayer(dc, layer)
	}

	bounds := base.Bounds()
	return &Canvas{
		Image:  toRGBA(dc.Image()),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// Size returns the canvas size Render would produce for img.
func (r *Renderer) Size(img *models.Image) (int, int, error) {
	if img == nil || len(img.Data) == 0 {
		return 0, 0, ErrNoImage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	base, err := r.scaledBase(img)
	if err != nil {
		return 0, 0, err
	}
	b := base.Bounds()
	return b.Dx(), b.Dy(), nil
}

// MeasureText returns the advance width of text in the caption face.
func (r *Renderer) MeasureText(text string, fontSize int) float64 {
	if text == "" || fontSize <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	adv := font.MeasureString(r.face(fontSize), text)
	return float64(adv) / 64
}

func (r *Renderer) drawLayer(dc *gg.Context, layer models.TextLayer) {
	if layer.FontSize <= 0 {
		return
	}
	dc.SetFontFace(r.face(layer.FontSize))
	radius := float64(layer.FontSize) / 10 / 2

	for i, line := range layer.Lines() {
		text := strings.ToUpper(line)
		if text == "" {
			continue
		}
		y := layer.Y + float64(i*layer.FontSize)

		dc.SetColor(color.Black)
		for _, off := range strokeOffsets(radius) {
			dc.DrawStringAnchored(text, layer.X+off.X, y+off.Y, 0.5, 0)
		}

		dc.SetColor(color.White)
		dc.DrawStringAnchored(text, layer.X, y, 0.5, 0)
	}
}

func (r *Renderer) face(size int) font.Face {
	if f, ok := r.faces[size]; ok {
		return f
	}
	f := truetype.NewFace(r.font, &truetype.Options{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	r.faces[size] = f
	return f
}

func (r *Renderer) scaledBase(img *models.Image) (*image.NRGBA, error) {
	key := sha256.Sum256(img.Data)
	if r.base != nil && r.base.key == key {
		return r.base.img, nil
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}

	b := src.Bounds()
	w, h := CanvasSize(b.Dx(), b.Dy())
	scaled := imaging.Resize(src, w, h, imaging.Lanczos)

	r.base = &baseImage{key: key, img: scaled}
	return scaled, nil
}

func strokeOffsets(radius float64) []gg.Point {
	if radius <= 0 {
		return nil
	}
	points := make([]gg.Point, 0, strokeSamples*2)
	for _, rr := range []float64{radius, radius / 2} {
		for i := 0; i < strokeSamples; i++ {
			theta := 2 * math.Pi * float64(i) / strokeSamples
			points = append(points, gg.Point{X: rr * math.Cos(theta), Y: rr * math.Sin(theta)})
		}
	}
	return points
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
