package layers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/manash/memegen/pkg/models"
)

var (
	ErrLayerNotFound = errors.New("text layer not found")
	ErrAmbiguousID   = errors.New("layer id prefix is ambiguous")
)

// Collection is an ordered list of text layers. Later layers render on top.
// It is not safe for concurrent use; the studio serializes access.
type Collection struct {
	items []models.TextLayer
	newID func() string
}

func New() *Collection {
	return &Collection{
		newID: func() string { return uuid.New().String() },
	}
}

// Add appends a layer with default position and size. A zero y falls back
// to the default top position.
func (c *Collection) Add(content string, y float64) models.TextLayer {
	if y == 0 {
		y = models.DefaultTextY
	}

	id := c.newID()
	for c.index(id) >= 0 {
		id = c.newID()
	}

	layer := models.TextLayer{
		ID:       id,
		Content:  content,
		X:        models.DefaultTextX,
		Y:        y,
		FontSize: models.DefaultFontSize,
	}
	c.items = append(c.items, layer)
	return layer
}

func (c *Collection) Get(id string) (models.TextLayer, error) {
	i := c.index(id)
	if i < 0 {
		return models.TextLayer{}, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	return c.items[i], nil
}

func (c *Collection) SetContent(id, content string) error {
	return c.update(id, func(l *models.TextLayer) error {
		l.Content = content
		return nil
	})
}

func (c *Collection) SetFontSize(id string, size int) error {
	if err := models.ValidateFontSize(size); err != nil {
		return err
	}
	return c.update(id, func(l *models.TextLayer) error {
		l.FontSize = size
		return nil
	})
}

// Move sets the anchor. Positions are not clamped to the canvas.
func (c *Collection) Move(id string, x, y float64) error {
	return c.update(id, func(l *models.TextLayer) error {
		l.X, l.Y = x, y
		return nil
	})
}

func (c *Collection) Delete(id string) error {
	i := c.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return nil
}

func (c *Collection) Clear() {
	c.items = nil
}

func (c *Collection) Len() int {
	return len(c.items)
}

// List returns a copy of the layers in render order.
func (c *Collection) List() []models.TextLayer {
	out := make([]models.TextLayer, len(c.items))
	copy(out, c.items)
	return out
}

// Replace installs layers wholesale, e.g. when a saved project is restored.
// Layers without an id or with a duplicate id get a fresh one.
func (c *Collection) Replace(items []models.TextLayer) {
	c.items = make([]models.TextLayer, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, l := range items {
		if l.ID == "" || seen[l.ID] {
			l.ID = c.newID()
		}
		if models.ValidateFontSize(l.FontSize) != nil {
			l.FontSize = models.DefaultFontSize
		}
		seen[l.ID] = true
		c.items = append(c.items, l)
	}
}

// Resolve expands a unique id prefix to the full layer id.
func (c *Collection) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrLayerNotFound)
	}
	if c.index(prefix) >= 0 {
		return prefix, nil
	}

	var match string
	for _, l := range c.items {
		if strings.HasPrefix(l.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
			}
			match = l.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrLayerNotFound, prefix)
	}
	return match, nil
}

func (c *Collection) update(id string, fn func(*models.TextLayer) error) error {
	i := c.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	return fn(&c.items[i])
}

func (c *Collection) index(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}
