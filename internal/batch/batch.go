package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/manash/memegen/internal/imagestore"
	"github.com/manash/memegen/internal/render"
	"github.com/manash/memegen/internal/templates"
	"github.com/manash/memegen/pkg/models"
)

// BottomMargin is the gap between a bottom caption's baseline and the
// canvas edge.
const BottomMargin = 30

const templatePrefix = "template:"

var ErrSkipped = errors.New("skipped after an earlier failure")

type Result struct {
	Index    int
	Image    string
	Path     string
	Bytes    int
	Error    error
	Duration time.Duration
}

type Options struct {
	OutputDir   string
	Parallel    int
	StopOnError bool
}

// Renderer draws captions onto an image.
type Renderer interface {
	Render(img *models.Image, layers []models.TextLayer) (*render.Canvas, error)
	Size(img *models.Image) (int, int, error)
}

type Processor struct {
	renderer Renderer
	images   *imagestore.Store
	logger   *log.Logger
	out      io.Writer
	err      io.Writer
	outMu    sync.Mutex
}

func NewProcessor(renderer Renderer, images *imagestore.Store, logger *log.Logger, out, errOut io.Writer) *Processor {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Processor{
		renderer: renderer,
		images:   images,
		logger:   logger,
		out:      out,
		err:      errOut,
	}
}

func (p *Processor) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

// Process renders every item with at most opts.Parallel workers. With
// StopOnError the first failure cancels the items that have not started.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	workers := opts.Parallel
	if workers < 1 {
		workers = 1
	}
	if workers > total && total > 0 {
		workers = total
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Index: item.Index, Image: item.Image, Error: err}
				return nil
			}
			result := p.processItem(gctx, item, opts, i+1, total)
			results[i] = result
			if result.Error != nil && opts.StopOnError {
				return fmt.Errorf("stopped at item %d: %w", item.Index, result.Error)
			}
			return nil
		})
	}

	err := g.Wait()
	for i, r := range results {
		if r.Index == 0 {
			results[i] = Result{Index: items[i].Index, Image: items[i].Image, Error: ErrSkipped}
		}
	}
	if err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{Index: item.Index, Image: item.Image}

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		p.logger.Debug("batch item failed", "index", item.Index, "image", item.Image, "err", err)
		return result
	}

	p.printf("[%d/%d] Rendering: %s\n", current, total, truncate(item.Image, 50))

	img, err := p.load(ctx, item.Image)
	if err != nil {
		return fail(fmt.Errorf("load failed: %w", err))
	}

	_, h, err := p.renderer.Size(img)
	if err != nil {
		return fail(fmt.Errorf("decode failed: %w", err))
	}

	canvas, err := p.renderer.Render(img, PlaceCaptions(item.Captions, h))
	if err != nil {
		return fail(fmt.Errorf("render failed: %w", err))
	}
	data, err := canvas.PNG()
	if err != nil {
		return fail(err)
	}

	name := item.Output
	if name == "" {
		name = generateFilename(item.Index, item.Image)
	}
	outputPath := filepath.Join(opts.OutputDir, name)
	if err := imagestore.WriteFile(outputPath, data); err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Path = outputPath
	result.Bytes = len(data)
	result.Duration = time.Since(start)
	p.printf("       Saved: %s (%s)\n", outputPath, humanize.Bytes(uint64(len(data))))
	return result
}

func (p *Processor) load(ctx context.Context, source string) (*models.Image, error) {
	switch {
	case strings.HasPrefix(source, templatePrefix):
		tmpl, err := templates.Find(strings.TrimPrefix(source, templatePrefix))
		if err != nil {
			return nil, err
		}
		return p.images.Fetch(ctx, tmpl.URL)
	case strings.HasPrefix(source, "https://"), strings.HasPrefix(source, "http://"):
		return p.images.Fetch(ctx, source)
	default:
		return imagestore.DecodeFile(source)
	}
}

// PlaceCaptions turns captions into layers on a canvas of the given height.
// A caption without Y goes to its Position, or to the top if it is first
// and to the bottom otherwise.
func PlaceCaptions(captions []Caption, canvasH int) []models.TextLayer {
	layers := make([]models.TextLayer, 0, len(captions))
	for i, c := range captions {
		l := models.TextLayer{
			ID:       fmt.Sprintf("caption-%d", i+1),
			Content:  c.Text,
			X:        c.X,
			Y:        c.Y,
			FontSize: c.Size,
		}
		if l.X == 0 {
			l.X = models.DefaultTextX
		}
		if l.FontSize == 0 {
			l.FontSize = models.DefaultFontSize
		}
		if l.Y == 0 {
			top := c.Position == PositionTop || (c.Position == "" && i == 0)
			if top {
				l.Y = models.DefaultTextY
			} else {
				lines := len(l.Lines())
				l.Y = float64(canvasH - BottomMargin - (lines-1)*l.FontSize)
			}
		}
		layers = append(layers, l)
	}
	return layers
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func generateFilename(index int, source string) string {
	var base string
	if strings.Contains(source, "://") || strings.HasPrefix(source, templatePrefix) {
		base = path.Base(strings.TrimPrefix(source, templatePrefix))
	} else {
		base = filepath.Base(source)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		slug = "meme"
	}
	return fmt.Sprintf("%03d-%s.png", index, slug)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, written int
	var failures []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			failures = append(failures, r)
		} else if r.Path != "" {
			successful++
			written += r.Bytes
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Rendered: %d/%d memes\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Written: %s\n", humanize.Bytes(uint64(written)))

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range failures {
			fmt.Fprintf(p.out, "  [%d] %s: %v\n", e.Index, truncate(e.Image, 40), e.Error)
		}
	}
}
