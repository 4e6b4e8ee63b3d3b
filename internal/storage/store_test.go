package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/rollcall/internal/domain"
)

// These tests need a migrated database: TEST_POSTGRES_DSN=postgres://... go test ./internal/storage
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return New(db)
}

func newTestSession(t *testing.T, s *Store, expires time.Time) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		TeacherID: "t-" + uuid.NewString()[:8],
		Type:      domain.Lecture,
		Location:  &domain.Point{Lat: 48.85, Lng: 2.35},
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expires,
		IsActive:  true,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, time.Now().Add(time.Hour))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.TeacherID, got.TeacherID)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 48.85, got.Location.Lat, 1e-9)

	require.NoError(t, s.AttachTargets(ctx, sess.ID, "sheet-1", "log-1"))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", got.SpreadsheetTarget)

	_, err = s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddRecordRejectsSecondSubmission(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, time.Now().Add(time.Hour))

	rec := &domain.AttendanceRecord{
		SessionID:   sess.ID,
		StudentName: "Ada",
		Email:       "ada@example.com",
		IPAddress:   "10.0.0.1",
		Timestamp:   time.Now().UTC(),
		Status:      domain.Flagged,
		Violations:  []domain.Violation{{Type: domain.DuplicateDevice, Details: "same device as bob@example.com"}},
	}
	id, err := s.AddRecord(ctx, rec)
	require.NoError(t, err)

	_, err = s.AddRecord(ctx, rec)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	has, err := s.HasAttendee(ctx, sess.ID, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.MarkSynced(ctx, id))
	recs, err := s.RecordsBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Synced)
	assert.Equal(t, domain.Flagged, recs[0].Status)
	assert.Len(t, recs[0].Violations, 1)
}

func TestExpireDueDeactivatesOverdueSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := newTestSession(t, s, time.Now().Add(-time.Minute))
	fresh := newTestSession(t, s, time.Now().Add(time.Hour))

	ids, err := s.ExpireDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, ids, old.ID)
	assert.NotContains(t, ids, fresh.ID)

	got, err := s.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}
