package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"levelquest/internal/models"
)

// MemoryStore keeps everything in process memory. It honours the same
// conditional-write contract as the database backends.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	progress map[string]*models.CourseProgress
	stats    map[string]*models.UserStats
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		progress: make(map[string]*models.CourseProgress),
		stats:    make(map[string]*models.UserStats),
	}
}

// CreateSession inserts a session, enforcing one active session per (user, level)
func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrVersionConflict("session", s.ID)
	}
	if s.Status == models.SessionStatusActive {
		for _, existing := range m.sessions {
			if existing.Status == models.SessionStatusActive && existing.UserID == s.UserID && existing.LevelID == s.LevelID {
				return ErrActiveSessionExists(s.UserID, s.LevelID)
			}
		}
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	return nil
}

// GetSession returns a copy of the stored session
func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound("session", id)
	}
	return s.Clone(), nil
}

// FindActiveSession returns the active session for (user, level), or nil
func (m *MemoryStore) FindActiveSession(_ context.Context, userID, levelID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == models.SessionStatusActive && s.UserID == userID && s.LevelID == levelID {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

// FindLatestActiveSession returns the newest active session of a learner, or nil
func (m *MemoryStore) FindLatestActiveSession(_ context.Context, userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Session
	for _, s := range m.sessions {
		if s.Status != models.SessionStatusActive || s.UserID != userID {
			continue
		}
		if latest == nil || s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return latest.Clone(), nil
}

// UpdateSession performs the compare-and-swap write
func (m *MemoryStore) UpdateSession(_ context.Context, s *models.Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ID]
	if !ok || current.Version != expectedVersion || current.Status != models.SessionStatusActive {
		return ErrVersionConflict("session", s.ID)
	}
	s.Version = expectedVersion + 1
	m.sessions[s.ID] = s.Clone()
	return nil
}

// TransitionSession ends an active session
func (m *MemoryStore) TransitionSession(_ context.Context, id string, to models.SessionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound("session", id)
	}
	if s.Status != models.SessionStatusActive {
		return false, nil
	}
	end := at
	s.Status = to
	s.EndTime = &end
	s.Version++
	return true, nil
}

// ExpireStaleSessions expires active sessions started before cutoff
func (m *MemoryStore) ExpireStaleSessions(_ context.Context, cutoff, at time.Time) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := []*models.Session{}
	for _, s := range m.sessions {
		if s.Status != models.SessionStatusActive || !s.StartTime.Before(cutoff) {
			continue
		}
		end := at
		s.Status = models.SessionStatusExpired
		s.EndTime = &end
		s.Version++
		expired = append(expired, s.Clone())
	}
	return expired, nil
}

// ListSessions returns sessions matching filter
func (m *MemoryStore) ListSessions(_ context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Session{}
	for _, s := range m.sessions {
		if matchesFilter(s, filter) {
			out = append(out, s.Clone())
		}
	}
	sortSessions(out, filter.NewestFirst)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListUnaggregatedSessions returns completed sessions still owed to the aggregates
func (m *MemoryStore) ListUnaggregatedSessions(_ context.Context, endedBefore time.Time, limit int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Session{}
	for _, s := range m.sessions {
		if s.Status == models.SessionStatusCompleted && !s.Aggregated && s.EndTime != nil && s.EndTime.Before(endedBefore) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(*out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSessionAggregated flags a completed session as absorbed by the aggregates
func (m *MemoryStore) MarkSessionAggregated(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound("session", id)
	}
	if !s.Aggregated {
		s.Aggregated = true
		s.Version++
	}
	return nil
}

func progressKey(userID, courseID string) string {
	return userID + "\x00" + courseID
}

// GetCourseProgress returns a copy of the stored progress
func (m *MemoryStore) GetCourseProgress(_ context.Context, userID, courseID string) (*models.CourseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[progressKey(userID, courseID)]
	if !ok {
		return nil, ErrNotFound("course progress", courseID)
	}
	return p.Clone(), nil
}

// SaveCourseProgress inserts or conditionally updates progress
func (m *MemoryStore) SaveCourseProgress(_ context.Context, p *models.CourseProgress, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := progressKey(p.UserID, p.CourseID)
	current, ok := m.progress[key]
	switch {
	case expectedVersion == 0 && ok:
		return ErrVersionConflict("course progress", p.CourseID)
	case expectedVersion != 0 && (!ok || current.Version != expectedVersion):
		return ErrVersionConflict("course progress", p.CourseID)
	}
	p.Version = expectedVersion + 1
	m.progress[key] = p.Clone()
	return nil
}

// ListCourseProgress lists a learner's course progress, most recently updated first
func (m *MemoryStore) ListCourseProgress(_ context.Context, userID string, completed *bool) ([]*models.CourseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.CourseProgress{}
	for _, p := range m.progress {
		if p.UserID != userID {
			continue
		}
		if completed != nil && p.IsCompleted != *completed {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CourseID < out[j].CourseID
	})
	return out, nil
}

// DeleteUserProgress drops every progress record of a learner
func (m *MemoryStore) DeleteUserProgress(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.progress {
		if p.UserID == userID {
			delete(m.progress, key)
		}
	}
	return nil
}

// GetUserStats returns a copy of the stored stats
func (m *MemoryStore) GetUserStats(_ context.Context, userID string) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, ErrNotFound("user stats", userID)
	}
	return s.Clone(), nil
}

// SaveUserStats inserts or conditionally updates stats
func (m *MemoryStore) SaveUserStats(_ context.Context, s *models.UserStats, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.stats[s.UserID]
	switch {
	case expectedVersion == 0 && ok:
		return ErrVersionConflict("user stats", s.UserID)
	case expectedVersion != 0 && (!ok || current.Version != expectedVersion):
		return ErrVersionConflict("user stats", s.UserID)
	}
	s.Version = expectedVersion + 1
	m.stats[s.UserID] = s.Clone()
	return nil
}

// DeleteUserStats drops a learner's stats
func (m *MemoryStore) DeleteUserStats(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stats, userID)
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close(context.Context) error { return nil }

func matchesFilter(s *models.Session, f models.SessionFilter) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.LevelID != "" && s.LevelID != f.LevelID {
		return false
	}
	if f.CourseID != "" && s.CourseID != f.CourseID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.ExcludeID != "" && s.ID == f.ExcludeID {
		return false
	}
	return true
}

// sortSessions orders by end time descending (open sessions last) when newestFirst,
// otherwise by start time ascending. Ties break on id for determinism.
func sortSessions(sessions []*models.Session, newestFirst bool) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if newestFirst {
			switch {
			case a.EndTime != nil && b.EndTime == nil:
				return true
			case a.EndTime == nil && b.EndTime != nil:
				return false
			case a.EndTime != nil && b.EndTime != nil && !a.EndTime.Equal(*b.EndTime):
				return a.EndTime.After(*b.EndTime)
			}
			if !a.StartTime.Equal(b.StartTime) {
				return a.StartTime.After(b.StartTime)
			}
			return a.ID < b.ID
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID < b.ID
	})
}
