package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/manash/memegen/internal/drag"
	"github.com/manash/memegen/internal/imagestore"
	"github.com/manash/memegen/internal/layers"
	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/internal/render"
	"github.com/manash/memegen/internal/templates"
	"github.com/manash/memegen/pkg/models"
)

var (
	ErrBusy         = errors.New("another operation is in progress")
	ErrNoImage      = errors.New("no image loaded")
	ErrCaptionIndex = errors.New("caption index out of range")
	ErrStaleResult  = errors.New("image changed while the request was running")
)

// User-facing banner texts.
const (
	BannerTemplate = "Failed to load template image."
	BannerCaptions = "AI was unable to process this image. Try a different one."
	BannerAnalysis = "Analysis failed. The image might be too complex or restricted."
	BannerEdit     = "AI editing failed. Try a simpler prompt."
)

// BannerError is a failed AI or template call together with the banner
// text the user sees for it.
type BannerError struct {
	Op     Operation
	Banner string
	Err    error
}

func (e *BannerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BannerError) Unwrap() error { return e.Err }

// BannerFor returns the banner carried by err, if any.
func BannerFor(err error) (string, bool) {
	var be *BannerError
	if errors.As(err, &be) {
		return be.Banner, true
	}
	return "", false
}

type Operation string

const (
	OpNone     Operation = ""
	OpTemplate Operation = "template"
	OpCaptions Operation = "captions"
	OpAnalyze  Operation = "analyze"
	OpEdit     Operation = "edit"
)

// Renderer draws the meme surface and measures caption text.
type Renderer interface {
	Render(img *models.Image, layers []models.TextLayer) (*render.Canvas, error)
	Size(img *models.Image) (int, int, error)
	MeasureText(text string, fontSize int) float64
}

type Options struct {
	Gateway  provider.Gateway
	Renderer Renderer
	Images   *imagestore.Store
	Logger   *log.Logger
}

// Studio owns the state of one meme editing session. All mutations go
// through its methods and it is safe for concurrent use.
type Studio struct {
	mu sync.Mutex

	images   *imagestore.Store
	layers   *layers.Collection
	gateway  provider.Gateway
	renderer Renderer
	drag     *drag.Controller
	logger   *log.Logger

	captions []string
	analysis *models.AnalysisResult
	loading  Operation
	banner   string

	viewport models.Viewport
	canvasW  int
	canvasH  int

	// generation changes whenever a load swaps the image, so AI results
	// computed for an older image are dropped.
	generation uint64
}

func New(opts Options) (*Studio, error) {
	if opts.Renderer == nil {
		r, err := render.New()
		if err != nil {
			return nil, err
		}
		opts.Renderer = r
	}
	if opts.Images == nil {
		opts.Images = imagestore.New(imagestore.WithStrictHosts(true))
	}
	if opts.Gateway == nil {
		opts.Gateway = provider.NewUnavailable(models.ProviderGemini, provider.ErrAPIKeyRequired)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	return &Studio{
		images:   opts.Images,
		layers:   layers.New(),
		gateway:  opts.Gateway,
		renderer: opts.Renderer,
		drag:     drag.NewController(opts.Renderer),
		logger:   opts.Logger,
	}, nil
}

func (s *Studio) Gateway() provider.Gateway {
	return s.gateway
}

// LoadFile replaces the image with a local file and starts a fresh meme.
func (s *Studio) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return s.LoadUpload(f, path)
}

// LoadUpload replaces the image with uploaded bytes and starts a fresh meme.
// Content that is not a decodable image leaves the studio unchanged.
func (s *Studio) LoadUpload(r io.Reader, name string) error {
	img, err := imagestore.Decode(r)
	if err != nil {
		return err
	}
	w, h, err := s.renderer.Size(img)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = ""
	return s.install(img, name, w, h)
}

// LoadTemplate fetches a catalog template by ID or name. A fetch failure
// sets the template banner and leaves the current image in place.
func (s *Studio) LoadTemplate(ctx context.Context, query string) (models.Template, error) {
	tmpl, err := templates.Find(query)
	if err != nil {
		return models.Template{}, err
	}

	s.mu.Lock()
	if s.loading != OpNone {
		s.mu.Unlock()
		return tmpl, ErrBusy
	}
	s.loading = OpTemplate
	s.banner = ""
	gen := s.generation
	s.mu.Unlock()
	defer s.finish()

	img, err := s.images.Fetch(ctx, tmpl.URL)
	var w, h int
	if err == nil {
		w, h, err = s.renderer.Size(img)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.banner = BannerTemplate
		s.logger.Debug("template load failed", "template", tmpl.Name, "err", err)
		return tmpl, &BannerError{Op: OpTemplate, Banner: BannerTemplate, Err: fmt.Errorf("%q: %w", tmpl.Name, err)}
	}
	if s.stale(OpTemplate, gen) {
		return tmpl, ErrStaleResult
	}
	return tmpl, s.install(img, tmpl.URL, w, h)
}

// install makes img current and resets per-image state. Caller holds s.mu.
func (s *Studio) install(img *models.Image, source string, w, h int) error {
	if err := s.images.Replace(img, source); err != nil {
		return err
	}
	s.layers.Clear()
	s.captions = nil
	s.analysis = nil
	s.drag.PointerUp()
	s.canvasW, s.canvasH = w, h
	s.generation++
	s.logger.Debug("image loaded", "source", source, "mime", img.MIMEType, "canvas", fmt.Sprintf("%dx%d", w, h))
	return nil
}

func (s *Studio) finish() {
	s.mu.Lock()
	s.loading = OpNone
	s.mu.Unlock()
}

// AddText appends a caption layer. A zero y places it at the default height.
func (s *Studio) AddText(content string, y float64) models.TextLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Add(content, y)
}

// AddDefaultText adds the placeholder caption offered by the layer panel.
func (s *Studio) AddDefaultText() models.TextLayer {
	return s.AddText(models.NewCaptionText, models.NewCaptionY)
}

func (s *Studio) EditText(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.SetContent(id, content)
}

func (s *Studio) ResizeText(id string, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.SetFontSize(id, size)
}

func (s *Studio) MoveText(id string, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Move(id, x, y)
}

func (s *Studio) DeleteText(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.layers.Delete(id); err != nil {
		return err
	}
	if active, ok := s.drag.Active(); ok && active == id {
		s.drag.PointerUp()
	}
	return nil
}

// ResolveLayer expands a unique ID prefix to a full layer ID.
func (s *Studio) ResolveLayer(prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Resolve(prefix)
}

func (s *Studio) Layers() []models.TextLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.List()
}

// beginAI claims the loading flag for an AI call and returns the image it
// should work on.
func (s *Studio) beginAI(op Operation) (*models.Image, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading != OpNone {
		return nil, 0, ErrBusy
	}
	img, ok := s.images.Current()
	if !ok {
		return nil, 0, ErrNoImage
	}
	s.loading = op
	s.banner = ""
	return img, s.generation, nil
}

// fail records a banner for a failed AI call. Caller holds s.mu.
func (s *Studio) fail(op Operation, banner string, err error) error {
	s.banner = banner
	s.logger.Debug("AI call failed", "op", op, "provider", s.gateway.Name(), "err", err)
	return &BannerError{Op: op, Banner: banner, Err: err}
}

func (s *Studio) stale(op Operation, gen uint64) bool {
	if gen == s.generation {
		return false
	}
	s.logger.Debug("dropping AI result for replaced image", "op", op)
	return true
}

// SuggestCaptions asks the gateway for caption ideas and replaces the
// current suggestions.
func (s *Studio) SuggestCaptions(ctx context.Context) ([]string, error) {
	img, gen, err := s.beginAI(OpCaptions)
	if err != nil {
		return nil, err
	}
	defer s.finish()

	captions, err := s.gateway.SuggestCaptions(ctx, img)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return nil, s.fail(OpCaptions, BannerCaptions, err)
	}
	if s.stale(OpCaptions, gen) {
		return nil, ErrStaleResult
	}
	if len(captions) > models.MaxCaptions {
		captions = captions[:models.MaxCaptions]
	}
	s.captions = append([]string(nil), captions...)
	return s.captions, nil
}

// UseCaption turns suggestion i into a new layer.
func (s *Studio) UseCaption(i int) (models.TextLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.captions) {
		return models.TextLayer{}, fmt.Errorf("%w: %d", ErrCaptionIndex, i)
	}
	return s.layers.Add(s.captions[i], models.DefaultTextY), nil
}

func (s *Studio) ClearCaptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captions = nil
}

// Analyze replaces the current analysis with a fresh one.
func (s *Studio) Analyze(ctx context.Context) (*models.AnalysisResult, error) {
	img, gen, err := s.beginAI(OpAnalyze)
	if err != nil {
		return nil, err
	}
	defer s.finish()

	result, err := s.gateway.AnalyzeImage(ctx, img)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && result == nil {
		err = provider.ErrMalformedResponse
	}
	if err != nil {
		return nil, s.fail(OpAnalyze, BannerAnalysis, err)
	}
	if s.stale(OpAnalyze, gen) {
		return nil, ErrStaleResult
	}
	s.analysis = result
	return result, nil
}

// EditImage asks the gateway to modify the image. Layers are kept. A reply
// without an image changes nothing and reports false.
func (s *Studio) EditImage(ctx context.Context, instruction string) (bool, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return false, models.ErrEmptyInstruction
	}

	img, gen, err := s.beginAI(OpEdit)
	if err != nil {
		return false, err
	}
	defer s.finish()

	edited, err := s.gateway.EditImage(ctx, img, instruction)
	var w, h int
	if err == nil && edited != nil {
		w, h, err = s.renderer.Size(edited)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return false, s.fail(OpEdit, BannerEdit, err)
	}
	if edited == nil {
		s.logger.Debug("edit returned no image")
		return false, nil
	}
	if s.stale(OpEdit, gen) {
		return false, ErrStaleResult
	}
	if err := s.images.Replace(edited, "ai edit: "+instruction); err != nil {
		return false, s.fail(OpEdit, BannerEdit, err)
	}
	s.canvasW, s.canvasH = w, h
	return true, nil
}

func (s *Studio) SetViewport(vp models.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = vp
}

func (s *Studio) toCanvas(client models.Point) models.Point {
	return drag.ToCanvas(client, s.viewport, s.canvasW, s.canvasH)
}

// PointerDown starts dragging the top-most layer under the pointer. Without
// an image it does nothing.
func (s *Studio) PointerDown(client models.Point) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.images.HasImage() {
		return "", false
	}
	return s.drag.PointerDown(s.layers.List(), s.toCanvas(client))
}

// PointerMove moves the dragged layer so the grab offset stays constant.
func (s *Studio) PointerMove(client models.Point) (models.TextLayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.images.HasImage() {
		return models.TextLayer{}, false
	}

	id, anchor, ok := s.drag.PointerMove(s.toCanvas(client))
	if !ok {
		return models.TextLayer{}, false
	}
	if err := s.layers.Move(id, anchor.X, anchor.Y); err != nil {
		s.drag.PointerUp()
		return models.TextLayer{}, false
	}
	l, _ := s.layers.Get(id)
	return l, true
}

func (s *Studio) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drag.PointerUp()
}

func (s *Studio) PointerLeave() {
	s.PointerUp()
}

// Render draws the current image and layers.
func (s *Studio) Render() (*render.Canvas, error) {
	s.mu.Lock()
	img, ok := s.images.Current()
	list := s.layers.List()
	s.mu.Unlock()

	if !ok {
		return nil, ErrNoImage
	}
	return s.renderer.Render(img, list)
}

// Export writes the rendered meme as PNG. It is refused while an operation
// is running.
func (s *Studio) Export(w io.Writer) error {
	s.mu.Lock()
	busy := s.loading != OpNone
	s.mu.Unlock()
	if busy {
		return ErrBusy
	}

	canvas, err := s.Render()
	if err != nil {
		return err
	}
	return canvas.Encode(w)
}

func (s *Studio) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = ""
}
