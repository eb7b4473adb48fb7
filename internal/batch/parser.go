package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manash/memegen/internal/security"
	"github.com/manash/memegen/pkg/models"
)

var ErrNoItems = errors.New("no memes found in file")

// Caption is one line of text to stamp on a batch image. Zero Y, X and Size
// take placement defaults. Position ("top" or "bottom") picks the default
// height when Y is zero.
type Caption struct {
	Text     string  `json:"text"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Size     int     `json:"size,omitempty"`
	Position string  `json:"position,omitempty"`
}

const (
	PositionTop    = "top"
	PositionBottom = "bottom"
)

// Item is one meme to render. Image is a file path, an https URL or
// "template:<id|name>".
type Item struct {
	Index    int
	Image    string
	Captions []Caption
	Output   string
}

type jsonItem struct {
	Image    string    `json:"image"`
	Captions []Caption `json:"captions"`
	Output   string    `json:"output,omitempty"`
}

func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
}

// ParseText reads one meme per line as "image | top text | bottom text".
// Blank lines and lines starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++

		fields := strings.Split(line, "|")
		item := Item{Index: index, Image: strings.TrimSpace(fields[0])}
		for i, f := range fields[1:] {
			text := strings.TrimSpace(f)
			if text == "" {
				continue
			}
			pos := PositionBottom
			if i == 0 {
				pos = PositionTop
			}
			item.Captions = append(item.Captions, Caption{Text: text, Position: pos})
		}
		if err := item.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", index, err)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if len(jsonItems) == 0 {
		return nil, ErrNoItems
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		items[i] = Item{
			Index:    i + 1,
			Image:    strings.TrimSpace(ji.Image),
			Captions: ji.Captions,
			Output:   ji.Output,
		}
		if err := items[i].validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return items, nil
}

func (it Item) validate() error {
	if it.Image == "" {
		return errors.New("image is required")
	}
	for i, c := range it.Captions {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("caption %d has empty text", i+1)
		}
		switch c.Position {
		case "", PositionTop, PositionBottom:
		default:
			return fmt.Errorf("caption %d: unknown position %q", i+1, c.Position)
		}
		if c.Size != 0 {
			if err := models.ValidateFontSize(c.Size); err != nil {
				return fmt.Errorf("caption %d: %w", i+1, err)
			}
		}
	}
	if it.Output != "" {
		if err := security.ValidateExportPath(it.Output); err != nil {
			return fmt.Errorf("invalid output %q: %w", it.Output, err)
		}
	}
	return nil
}
