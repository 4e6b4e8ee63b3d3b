// Package memstore keeps sessions, attendance records and violations in
// process memory. It backs STORE_BACKEND=memory and the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SirClappington/rollcall/internal/domain"
)

type Store struct {
	mutex      sync.RWMutex
	sessions   map[string]*domain.Session
	attendees  map[string]map[string]struct{}
	records    map[string]*domain.AttendanceRecord
	bySession  map[string][]string // record ids in insertion order
	violations []domain.ViolationEntry
}

func New() *Store {
	return &Store{
		sessions:  make(map[string]*domain.Session),
		attendees: make(map[string]map[string]struct{}),
		records:   make(map[string]*domain.AttendanceRecord),
		bySession: make(map[string][]string),
	}
}

func (s *Store) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return domain.ErrDuplicate
	}
	cp := copySession(sess)
	s.sessions[sess.ID] = cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) DeactivateSession(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sess.IsActive = false
	return nil
}

func (s *Store) AttachTargets(_ context.Context, id, spreadsheet, violationLog string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sess.SpreadsheetTarget = spreadsheet
	sess.ViolationLogTarget = violationLog
	return nil
}

func (s *Store) AddAttendee(_ context.Context, sessionID, email string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	set, ok := s.attendees[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.attendees[sessionID] = set
	}
	if _, dup := set[email]; !dup {
		set[email] = struct{}{}
		sess.AttendeeCount++
	}
	return nil
}

func (s *Store) HasAttendee(_ context.Context, sessionID, email string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.attendees[sessionID][email]
	return ok, nil
}

// ExpireDue deactivates every active session whose expiry is before now.
func (s *Store) ExpireDue(_ context.Context, now time.Time) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.IsActive && now.After(sess.ExpiresAt) {
			sess.IsActive = false
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) AddRecord(_ context.Context, r *domain.AttendanceRecord) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, id := range s.bySession[r.SessionID] {
		if s.records[id].Email == r.Email {
			return "", domain.ErrDuplicate
		}
	}
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Violations = append([]domain.Violation(nil), r.Violations...)
	s.records[cp.ID] = &cp
	s.bySession[cp.SessionID] = append(s.bySession[cp.SessionID], cp.ID)
	return cp.ID, nil
}

func (s *Store) MarkSynced(_ context.Context, recordID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Synced = true
	return nil
}

func (s *Store) RecordsBySession(_ context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := s.bySession[sessionID]
	out := make([]domain.AttendanceRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.records[id])
	}
	return out, nil
}

// Record returns a copy of one record; used by tests and the stats view.
func (s *Store) Record(recordID string) (domain.AttendanceRecord, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return domain.AttendanceRecord{}, false
	}
	return *r, true
}

func (s *Store) LogViolation(_ context.Context, v *domain.ViolationEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cp := *v
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.violations = append(s.violations, cp)
	return nil
}

func (s *Store) Violations(sessionID string) []domain.ViolationEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []domain.ViolationEntry
	for _, v := range s.violations {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) Stats(_ context.Context) (domain.StoreStats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	st := domain.StoreStats{Records: len(s.records), Violations: len(s.violations)}
	for _, sess := range s.sessions {
		if sess.IsActive {
			st.ActiveSessions++
		}
	}
	for _, r := range s.records {
		if r.Status == domain.Flagged {
			st.Flagged++
		}
		if !r.Synced {
			st.Unsynced++
		}
	}
	return st, nil
}

func copySession(sess *domain.Session) *domain.Session {
	cp := *sess
	if sess.Location != nil {
		loc := *sess.Location
		cp.Location = &loc
	}
	return &cp
}
