package templates

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manash/memegen/pkg/models"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrAmbiguousName    = errors.New("template name is ambiguous")
)

func picsum(id int) string {
	return fmt.Sprintf("https://picsum.photos/id/%d/600/400", id)
}

var catalog = []models.Template{
	{ID: "1", Name: "Distracted Boyfriend", URL: picsum(1011)},
	{ID: "2", Name: "Two Buttons", URL: picsum(1025)},
	{ID: "3", Name: "Woman Yelling at Cat", URL: picsum(1033)},
	{ID: "4", Name: "Surprised Pikachu", URL: picsum(1040)},
	{ID: "5", Name: "Thinking Guy", URL: picsum(1060)},
	{ID: "6", Name: "Disaster Girl", URL: picsum(1074)},
}

// All returns the catalog in display order.
func All() []models.Template {
	out := make([]models.Template, len(catalog))
	copy(out, catalog)
	return out
}

// Find looks a template up by ID, then by case-insensitive name, then by
// unique name prefix.
func Find(query string) (models.Template, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return models.Template{}, ErrTemplateNotFound
	}

	for _, t := range catalog {
		if t.ID == q || strings.ToLower(t.Name) == q {
			return t, nil
		}
	}

	var matches []models.Template
	for _, t := range catalog {
		if strings.HasPrefix(strings.ToLower(t.Name), q) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return models.Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, query)
	case 1:
		return matches[0], nil
	default:
		return models.Template{}, fmt.Errorf("%w: %s", ErrAmbiguousName, query)
	}
}
