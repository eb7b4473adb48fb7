package drag

import (
	"strings"

	"github.com/manash/memegen/pkg/models"
)

// HitPadding widens the approximate text box so thin glyphs stay grabbable.
const HitPadding = 10

// Measurer reports the rendered advance width of a line of text.
type Measurer interface {
	MeasureText(text string, fontSize int) float64
}

// ToCanvas converts a pointer position in display coordinates to canvas pixel
// space. A viewport without a size is treated as unscaled.
func ToCanvas(client models.Point, vp models.Viewport, canvasW, canvasH int) models.Point {
	scaleX, scaleY := 1.0, 1.0
	if vp.Width > 0 {
		scaleX = float64(canvasW) / vp.Width
	}
	if vp.Height > 0 {
		scaleY = float64(canvasH) / vp.Height
	}
	return models.Point{
		X: (client.X - vp.Left) * scaleX,
		Y: (client.Y - vp.Top) * scaleY,
	}
}

type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (b Box) Contains(p models.Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Bounds approximates a layer's box from the width of its first line and
// its line count.
func Bounds(l models.TextLayer, m Measurer) Box {
	lines := l.Lines()
	w := m.MeasureText(strings.ToUpper(lines[0]), l.FontSize)
	fs := float64(l.FontSize)
	return Box{
		MinX: l.X - w/2 - HitPadding,
		MinY: l.Y - fs,
		MaxX: l.X + w/2 + HitPadding,
		MaxY: l.Y + float64(len(lines)-1)*fs + HitPadding,
	}
}

// HitTest returns the top-most layer whose box contains p.
func HitTest(layers []models.TextLayer, p models.Point, m Measurer) (models.TextLayer, bool) {
	for i := len(layers) - 1; i >= 0; i-- {
		if Bounds(layers[i], m).Contains(p) {
			return layers[i], true
		}
	}
	return models.TextLayer{}, false
}

type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Controller tracks a single pointer drag over canvas-space layers.
type Controller struct {
	measurer Measurer
	state    State
	layerID  string
	offset   models.Point
}

func NewController(m Measurer) *Controller {
	return &Controller{measurer: m}
}

// PointerDown starts a drag on the top-most layer under p. A miss leaves the
// controller unchanged.
func (c *Controller) PointerDown(layers []models.TextLayer, p models.Point) (string, bool) {
	hit, ok := HitTest(layers, p, c.measurer)
	if !ok {
		return "", false
	}
	c.state = Dragging
	c.layerID = hit.ID
	c.offset = models.Point{X: p.X - hit.X, Y: p.Y - hit.Y}
	return hit.ID, true
}

// PointerMove returns the new anchor for the dragged layer.
func (c *Controller) PointerMove(p models.Point) (string, models.Point, bool) {
	if c.state != Dragging {
		return "", models.Point{}, false
	}
	return c.layerID, models.Point{X: p.X - c.offset.X, Y: p.Y - c.offset.Y}, true
}

func (c *Controller) PointerUp() {
	c.state = Idle
	c.layerID = ""
	c.offset = models.Point{}
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Active() (string, bool) {
	return c.layerID, c.state == Dragging
}

func (c *Controller) Offset() models.Point {
	return c.offset
}
