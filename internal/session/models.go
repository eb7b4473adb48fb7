package session

import (
	"encoding/json"
	"time"

	"github.com/manash/memegen/pkg/models"
)

// Project is a saved meme: the base image plus its caption layers.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Source    string
	MIMEType  string
	Image     []byte
	Layers    []models.TextLayer

	// ImageBytes is filled by listings, which do not load the image.
	ImageBytes int
}

func (p *Project) DisplayName() string {
	if p.Name == "" {
		return "(unnamed)"
	}
	return p.Name
}

// ShortID is the prefix shown in listings.
func (p *Project) ShortID() string {
	if len(p.ID) < 6 {
		return p.ID
	}
	return p.ID[:6]
}

func layersToJSON(layers []models.TextLayer) string {
	if layers == nil {
		layers = []models.TextLayer{}
	}
	data, _ := json.Marshal(layers)
	return string(data)
}

func parseLayers(data string) ([]models.TextLayer, error) {
	var layers []models.TextLayer
	if data == "" {
		return layers, nil
	}
	if err := json.Unmarshal([]byte(data), &layers); err != nil {
		return nil, err
	}
	return layers, nil
}

// CallEntry is one AI gateway call in the call log.
type CallEntry struct {
	ProjectID string
	Provider  string
	Model     string
	Operation string
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

type CallSummary struct {
	Calls         int
	Failures      int
	TotalDuration time.Duration
}

func (s CallSummary) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// GroupSummary is a CallSummary for one provider or operation.
type GroupSummary struct {
	Key string
	CallSummary
}

type CallReport struct {
	Total       CallSummary
	ByOperation []GroupSummary
	ByProvider  []GroupSummary
}
