package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manash/memegen/internal/provider"
	"github.com/manash/memegen/internal/studio"
	"github.com/manash/memegen/pkg/models"
)

var (
	ErrNoProject       = errors.New("no active project")
	ErrProjectNotFound = errors.New("project not found")
	ErrAmbiguousID     = errors.New("project id prefix is ambiguous")
	ErrNothingToSave   = errors.New("nothing to save")
)

// Manager tracks the active project and records AI calls against it.
type Manager struct {
	store   *Store
	current *Project
	now     func() time.Time
}

func NewManager(store *Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
	}
}

func (m *Manager) Current() *Project {
	return m.current
}

func (m *Manager) HasProject() bool {
	return m.current != nil
}

// New detaches from the active project so the next save creates a new one.
func (m *Manager) New() {
	m.current = nil
}

// Save writes snap to the active project, creating one if there is none.
// A non-empty name renames the project.
func (m *Manager) Save(ctx context.Context, name string, snap *studio.Snapshot) (*Project, error) {
	if snap == nil || snap.Image == nil || len(snap.Image.Data) == 0 {
		return nil, ErrNothingToSave
	}

	now := m.now()
	if m.current == nil {
		p := &Project{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		fillProject(p, snap)
		if err := m.store.CreateProject(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to create project: %w", err)
		}
		m.current = p
		return p, nil
	}

	p := *m.current
	if name != "" {
		p.Name = name
	}
	p.UpdatedAt = now
	fillProject(&p, snap)
	if err := m.store.UpdateProject(ctx, &p); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	m.current = &p
	return &p, nil
}

func fillProject(p *Project, snap *studio.Snapshot) {
	p.Source = snap.Source
	p.MIMEType = snap.Image.MIMEType
	p.Image = snap.Image.Data
	p.ImageBytes = len(snap.Image.Data)
	p.Layers = append([]models.TextLayer(nil), snap.Layers...)
}

// Load makes the project matching idPrefix active and returns its snapshot.
func (m *Manager) Load(ctx context.Context, idPrefix string) (*Project, *studio.Snapshot, error) {
	id, err := m.resolve(ctx, idPrefix)
	if err != nil {
		return nil, nil, err
	}

	p, err := m.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrProjectNotFound, idPrefix)
		}
		return nil, nil, fmt.Errorf("failed to load project: %w", err)
	}

	m.current = p
	snap := &studio.Snapshot{
		Image:  &models.Image{Data: p.Image, MIMEType: p.MIMEType},
		Source: p.Source,
		Layers: p.Layers,
	}
	return p, snap, nil
}

func (m *Manager) resolve(ctx context.Context, idPrefix string) (string, error) {
	idPrefix = strings.TrimSpace(idPrefix)
	if idPrefix == "" {
		return "", ErrProjectNotFound
	}

	projects, err := m.store.ListProjects(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, p := range projects {
		if p.ID == idPrefix {
			return p.ID, nil
		}
		if strings.HasPrefix(p.ID, idPrefix) {
			matches = append(matches, p.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrProjectNotFound, idPrefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, idPrefix)
	}
}

func (m *Manager) List(ctx context.Context) ([]*Project, error) {
	return m.store.ListProjects(ctx)
}

// Delete removes the project matching idPrefix and returns its full ID.
func (m *Manager) Delete(ctx context.Context, idPrefix string) (string, error) {
	id, err := m.resolve(ctx, idPrefix)
	if err != nil {
		return "", err
	}
	if m.current != nil && m.current.ID == id {
		m.current = nil
	}
	return id, m.store.DeleteProject(ctx, id)
}

func (m *Manager) Rename(ctx context.Context, name string) error {
	if m.current == nil {
		return ErrNoProject
	}
	now := m.now()
	if err := m.store.RenameProject(ctx, m.current.ID, name, now); err != nil {
		return err
	}
	m.current.Name = name
	m.current.UpdatedAt = now
	return nil
}

// LogCall records a gateway call, attributed to the active project if any.
func (m *Manager) LogCall(ctx context.Context, call provider.Call) error {
	entry := &CallEntry{
		Provider:  string(call.Provider),
		Model:     call.Model,
		Operation: string(call.Operation),
		Success:   call.Success,
		Duration:  call.Duration,
		Timestamp: m.now(),
	}
	if m.current != nil {
		entry.ProjectID = m.current.ID
	}
	return m.store.LogCall(ctx, entry)
}

// CallSummary reports calls in [start, end) in total, per operation and per
// provider.
func (m *Manager) CallSummary(ctx context.Context, start, end time.Time) (*CallReport, error) {
	total, err := m.store.SummarizeCalls(ctx, start, end)
	if err != nil {
		return nil, err
	}
	byOp, err := m.store.SummarizeCallsBy(ctx, "operation", start, end)
	if err != nil {
		return nil, err
	}
	byProvider, err := m.store.SummarizeCallsBy(ctx, "provider", start, end)
	if err != nil {
		return nil, err
	}
	return &CallReport{
		Total:       *total,
		ByOperation: byOp,
		ByProvider:  byProvider,
	}, nil
}
