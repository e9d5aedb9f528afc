// Package templates owns reusable role templates: parameterized agent
// specifications with usage counts and running-average performance.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hearthstack/hearth/internal/match"
	"github.com/hearthstack/hearth/internal/store"
)

// DefaultMaxPerUser caps templates per user.
const DefaultMaxPerUser = 50

// ErrLimitExceeded is returned when a user is at the template cap.
var ErrLimitExceeded = errors.New("template limit exceeded")

// Store is the subset of the persistence store the manager consumes.
type Store interface {
	InsertTemplate(ctx context.Context, t *store.Template) error
	GetTemplate(ctx context.Context, id string) (*store.Template, error)
	ListTemplates(ctx context.Context, userID string) ([]store.Template, error)
	CountTemplates(ctx context.Context, userID string) (int, error)
	UpdateTemplate(ctx context.Context, t *store.Template) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Manager owns role templates.
type Manager struct {
	store      Store
	matcher    *match.Matcher
	maxPerUser int
}

// NewManager creates a template manager. maxPerUser <= 0 uses the default.
func NewManager(s Store, matcher *match.Matcher, maxPerUser int) *Manager {
	if matcher == nil {
		matcher = match.New()
	}
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	return &Manager{store: s, matcher: matcher, maxPerUser: maxPerUser}
}

// CreateSpec describes a new template.
type CreateSpec struct {
	UserID          string
	Name            string
	RoleDescription string
	DefaultTools    []string
	DefaultTier     string
	Tags            []string
}

// Create inserts a template, enforcing the per-user cap.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*store.Template, error) {
	if spec.UserID == "" || spec.Name == "" {
		return nil, fmt.Errorf("create template: user_id and name are required")
	}
	n, err := m.store.CountTemplates(ctx, spec.UserID)
	if err != nil {
		return nil, fmt.Errorf("count templates: %w", err)
	}
	if n >= m.maxPerUser {
		return nil, fmt.Errorf("%w: %d templates (max %d)", ErrLimitExceeded, n, m.maxPerUser)
	}

	now := store.NowMilli()
	t := &store.Template{
		ID:              store.GenNewID(),
		UserID:          spec.UserID,
		Name:            spec.Name,
		RoleDescription: spec.RoleDescription,
		DefaultTools:    spec.DefaultTools,
		DefaultTier:     spec.DefaultTier,
		AvgPerformance:  0.5,
		Tags:            spec.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.InsertTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	slog.Info("template created", "id", t.ID, "user", t.UserID, "name", t.Name)
	return t, nil
}

// Get returns one template.
func (m *Manager) Get(ctx context.Context, id string) (*store.Template, error) {
	return m.store.GetTemplate(ctx, id)
}

// List returns a user's templates.
func (m *Manager) List(ctx context.Context, userID string) ([]store.Template, error) {
	return m.store.ListTemplates(ctx, userID)
}

// FindBestMatch scores a task description against each template's
// searchable text and returns the best match at the matcher's default
// minimum score.
func (m *Manager) FindBestMatch(ctx context.Context, userID, taskDescription string) (*store.Template, bool, error) {
	ts, err := m.store.ListTemplates(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("list templates: %w", err)
	}
	if len(ts) == 0 {
		return nil, false, nil
	}

	candidates := make([]match.Candidate, len(ts))
	byID := make(map[string]*store.Template, len(ts))
	for i := range ts {
		candidates[i] = match.Candidate{ID: ts[i].ID, Text: searchableText(&ts[i])}
		byID[ts[i].ID] = &ts[i]
	}

	best, score, ok := m.matcher.FindBest(taskDescription, candidates)
	if !ok {
		return nil, false, nil
	}
	slog.Debug("template match", "template", best.ID, "score", score)
	return byID[best.ID], true, nil
}

func searchableText(t *store.Template) string {
	return t.Name + " " + t.RoleDescription + " " + strings.Join(t.Tags, " ")
}

// UpdateSpec patches mutable template fields. Nil pointers leave a field
// unchanged.
type UpdateSpec struct {
	Name            *string
	RoleDescription *string
	DefaultTools    []string
	DefaultTier     *string
	Tags            []string
}

// Update patches a template and bumps updated_at.
func (m *Manager) Update(ctx context.Context, id string, spec UpdateSpec) (*store.Template, error) {
	t, err := m.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if spec.Name != nil {
		t.Name = *spec.Name
	}
	if spec.RoleDescription != nil {
		t.RoleDescription = *spec.RoleDescription
	}
	if spec.DefaultTools != nil {
		t.DefaultTools = spec.DefaultTools
	}
	if spec.DefaultTier != nil {
		t.DefaultTier = *spec.DefaultTier
	}
	if spec.Tags != nil {
		t.Tags = spec.Tags
	}
	t.UpdatedAt = store.NowMilli()
	if err := m.store.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordUsage folds one usage with the given performance score into the
// template's running mean.
func (m *Manager) RecordUsage(ctx context.Context, id string, performanceScore float64) error {
	t, err := m.store.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	t.AvgPerformance = (t.AvgPerformance*float64(t.TimesUsed) + performanceScore) /
		float64(t.TimesUsed+1)
	t.TimesUsed++
	t.UpdatedAt = store.NowMilli()
	return m.store.UpdateTemplate(ctx, t)
}

// Delete removes a template.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteTemplate(ctx, id)
}
