package models

import "sort"

type Operation string

const (
	OperationCaptions Operation = "captions"
	OperationAnalyze  Operation = "analyze"
	OperationEdit     Operation = "edit"
)

func (o Operation) String() string {
	return string(o)
}

// ModelSet names the model a provider uses for each gateway operation.
type ModelSet struct {
	Provider  ProviderType
	Captions  string
	Analysis  string
	Edit      string
	APIKeyEnv string
}

func (s *ModelSet) ModelFor(op Operation) string {
	switch op {
	case OperationCaptions:
		return s.Captions
	case OperationAnalyze:
		return s.Analysis
	case OperationEdit:
		return s.Edit
	default:
		return ""
	}
}

// Override replaces any model for which a non-empty name is given.
func (s *ModelSet) Override(captions, analysis, edit string) {
	if captions != "" {
		s.Captions = captions
	}
	if analysis != "" {
		s.Analysis = analysis
	}
	if edit != "" {
		s.Edit = edit
	}
}

type ModelRegistry struct {
	sets map[ProviderType]*ModelSet
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		sets: make(map[ProviderType]*ModelSet),
	}
}

func (r *ModelRegistry) Register(set *ModelSet) {
	r.sets[set.Provider] = set
}

// Get returns a copy so callers can override models without touching the registry.
func (r *ModelRegistry) Get(provider ProviderType) (*ModelSet, bool) {
	set, ok := r.sets[provider]
	if !ok {
		return nil, false
	}
	cp := *set
	return &cp, true
}

func (r *ModelRegistry) List() []ProviderType {
	providers := make([]ProviderType, 0, len(r.sets))
	for p := range r.sets {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelSet{
		Provider:  ProviderGemini,
		Captions:  "gemini-3-flash-preview",
		Analysis:  "gemini-3-pro-preview",
		Edit:      "gemini-2.5-flash-image",
		APIKeyEnv: "GEMINI_API_KEY",
	})

	r.Register(&ModelSet{
		Provider:  ProviderOpenAI,
		Captions:  "gpt-5-mini",
		Analysis:  "gpt-5",
		Edit:      "gpt-image-1",
		APIKeyEnv: "OPENAI_API_KEY",
	})

	return r
}
