package studio

import (
	"github.com/manash/memegen/pkg/models"
)

// State is a read-only view of the studio for front ends.
type State struct {
	HasImage     bool                   `json:"hasImage"`
	ImageSource  string                 `json:"imageSource,omitempty"`
	ImageMIME    string                 `json:"imageMime,omitempty"`
	ImageBytes   int                    `json:"imageBytes,omitempty"`
	CanvasWidth  int                    `json:"canvasWidth"`
	CanvasHeight int                    `json:"canvasHeight"`
	Layers       []models.TextLayer     `json:"layers"`
	Captions     []string               `json:"captions"`
	Analysis     *models.AnalysisResult `json:"analysis,omitempty"`
	Loading      bool                   `json:"loading"`
	Operation    Operation              `json:"operation,omitempty"`
	Error        string                 `json:"error,omitempty"`
	DraggingID   string                 `json:"draggingId,omitempty"`
	Provider     models.ProviderType    `json:"provider"`

	ShowLayerPanel bool `json:"showLayerPanel"`
	ShowCaptions   bool `json:"showCaptions"`
	ShowAnalysis   bool `json:"showAnalysis"`
}

func (s *Studio) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		CanvasWidth:  s.canvasW,
		CanvasHeight: s.canvasH,
		Layers:       s.layers.List(),
		Captions:     append([]string{}, s.captions...),
		Analysis:     s.analysis,
		Loading:      s.loading != OpNone,
		Operation:    s.loading,
		Error:        s.banner,
		Provider:     s.gateway.Name(),
	}
	if img, ok := s.images.Current(); ok {
		st.HasImage = true
		st.ImageSource = s.images.Source()
		st.ImageMIME = img.MIMEType
		st.ImageBytes = img.Size()
	}
	if id, ok := s.drag.Active(); ok {
		st.DraggingID = id
	}

	st.ShowLayerPanel = len(st.Layers) > 0
	st.ShowCaptions = len(st.Captions) > 0
	st.ShowAnalysis = st.Analysis != nil
	return st
}

// Snapshot is the persistable part of a session.
type Snapshot struct {
	Image  *models.Image
	Source string
	Layers []models.TextLayer
}

func (s *Studio) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images.Current()
	if !ok {
		return nil, ErrNoImage
	}
	return &Snapshot{
		Image:  img,
		Source: s.images.Source(),
		Layers: s.layers.List(),
	}, nil
}

// Restore replaces the session with a saved snapshot. Suggestions and
// analysis belong to the old image and are cleared.
func (s *Studio) Restore(snap *Snapshot) error {
	if snap == nil || snap.Image == nil {
		return ErrNoImage
	}
	w, h, err := s.renderer.Size(snap.Image)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading != OpNone {
		return ErrBusy
	}
	s.banner = ""
	if err := s.install(snap.Image, snap.Source, w, h); err != nil {
		return err
	}
	s.layers.Replace(snap.Layers)
	return nil
}
