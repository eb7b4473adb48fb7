package display

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/manash/memegen/internal/render"
)

var ErrNothingToDisplay = errors.New("nothing to display")

// Displayer shows rendered memes inline in terminals that speak the kitty
// graphics protocol and prints a one-line summary elsewhere.
type Displayer struct {
	out     io.Writer
	inline  bool
	columns int
}

type Option func(*Displayer)

// WithInline forces inline images on or off.
func WithInline(inline bool) Option {
	return func(d *Displayer) {
		d.inline = inline
	}
}

// WithColumns scales inline images to the given width in cells.
func WithColumns(columns int) Option {
	return func(d *Displayer) {
		d.columns = columns
	}
}

func New(out io.Writer, opts ...Option) *Displayer {
	d := &Displayer{
		out:    out,
		inline: IsTerminalSupported() && isTTY(out),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Displayer) Inline() bool {
	return d.inline
}

// Display writes PNG data to the terminal.
func (d *Displayer) Display(png []byte) error {
	if len(png) == 0 {
		return ErrNothingToDisplay
	}

	if !d.inline {
		_, err := fmt.Fprintln(d.out, Describe(png))
		return err
	}

	if err := NewKittyEncoder(d.out, d.columns).Encode(png); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintln(d.out)
	return nil
}

func (d *Displayer) DisplayCanvas(c *render.Canvas) error {
	if c == nil {
		return ErrNothingToDisplay
	}
	data, err := c.PNG()
	if err != nil {
		return err
	}
	return d.Display(data)
}

// Describe summarizes an encoded image as "[image 600x400, 12 kB]".
func Describe(data []byte) string {
	size := humanize.Bytes(uint64(len(data)))
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("[image, %s]", size)
	}
	return fmt.Sprintf("[%s image %dx%d, %s]", format, cfg.Width, cfg.Height, size)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	termEnv := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(termEnv, "kitty") || strings.Contains(termEnv, "ghostty")
}
