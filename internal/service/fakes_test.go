package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStudies — StudyRepository в памяти.
type memStudies struct {
	mu      sync.Mutex
	studies map[string]*model.Study
	history map[string][]lifecycle.TransitionRecord
	// gets — число обращений к Get (проверка кэша)
	gets int
}

func newMemStudies() *memStudies {
	return &memStudies{
		studies: make(map[string]*model.Study),
		history: make(map[string][]lifecycle.TransitionRecord),
	}
}

func cloneStudy(s *model.Study) *model.Study {
	c := *s
	c.Submitters = slices.Clone(s.Submitters)
	c.CuratorOverrides = slices.Clone(s.CuratorOverrides)
	c.CuratorComments = slices.Clone(s.CuratorComments)
	return &c
}

func (m *memStudies) put(s *model.Study) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studies[s.Accession] = cloneStudy(s)
}

func (m *memStudies) Create(_ context.Context, s *model.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.studies[s.Accession]; ok {
		return repository.ErrConflict
	}
	m.studies[s.Accession] = cloneStudy(s)
	return nil
}

func (m *memStudies) Get(_ context.Context, accession string) (*model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	s, ok := m.studies[accession]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneStudy(s), nil
}

func (m *memStudies) GetByObfuscationCode(_ context.Context, code string) (*model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.studies {
		if s.ObfuscationCode == code {
			return cloneStudy(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStudies) sorted(keep func(*model.Study) bool) []*model.Study {
	var out []*model.Study
	for _, s := range m.studies {
		if keep(s) {
			out = append(out, cloneStudy(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Accession < out[j].Accession })
	return out
}

func (m *memStudies) List(_ context.Context, status *model.StudyStatus, limit, offset int) ([]*model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(s *model.Study) bool { return status == nil || s.Status == *status })
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *memStudies) ListBySubmitter(_ context.Context, userID string) ([]*model.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(s *model.Study) bool { return s.HasSubmitter(userID) }), nil
}

func (m *memStudies) update(accession string, fn func(*model.Study)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[accession]
	if !ok {
		return repository.ErrNotFound
	}
	fn(s)
	return nil
}

func (m *memStudies) UpdateStatus(_ context.Context, accession string, status model.StudyStatus, release, changedAt time.Time) error {
	return m.update(accession, func(s *model.Study) {
		s.Status, s.ReleaseDate = status, release
		s.StatusChangedAt = &changedAt
	})
}

func (m *memStudies) UpdateDates(_ context.Context, accession string, submission, release time.Time) error {
	if release.Before(submission) {
		return repository.ErrConstraint
	}
	return m.update(accession, func(s *model.Study) {
		s.SubmissionDate, s.ReleaseDate = submission, release
	})
}

func (m *memStudies) UpdateNotes(_ context.Context, accession string, overrides, comments []string) error {
	return m.update(accession, func(s *model.Study) {
		s.CuratorOverrides, s.CuratorComments = slices.Clone(overrides), slices.Clone(comments)
	})
}

func (m *memStudies) UpdateValidationStatus(_ context.Context, accession, status string) error {
	return m.update(accession, func(s *model.Study) { s.ValidationStatus = status })
}

func (m *memStudies) AddSubmitter(_ context.Context, accession, userID string) error {
	return m.update(accession, func(s *model.Study) {
		if !s.HasSubmitter(userID) {
			s.Submitters = append(s.Submitters, userID)
		}
	})
}

func (m *memStudies) AppendHistory(_ context.Context, accession string, rec lifecycle.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[accession] = append(m.history[accession], rec)
	return nil
}

func (m *memStudies) History(_ context.Context, accession string) ([]lifecycle.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[accession]), nil
}

// memUsers — UserRepository в памяти.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) find(match func(*model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return repository.ErrConflict
	}
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username })
}

func (m *memUsers) GetByAPIToken(_ context.Context, token string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Active && u.APIToken == token })
}

// memCounter — AccessionRepository в памяти.
type memCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func (c *memCounter) Next(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]int64)
	}
	c.values[prefix]++
	return c.values[prefix], nil
}
