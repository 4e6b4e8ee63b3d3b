package attendance

import (
	"context"

	"github.com/SirClappington/rollcall/internal/domain"
	"github.com/SirClappington/rollcall/internal/queue"
)

// SessionStore returns domain.ErrNotFound for unknown ids.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	DeactivateSession(ctx context.Context, id string) error
	AttachTargets(ctx context.Context, id, spreadsheet, violationLog string) error
	AddAttendee(ctx context.Context, sessionID, email string) error
	HasAttendee(ctx context.Context, sessionID, email string) (bool, error)
}

// RecordStore returns domain.ErrDuplicate from AddRecord when the
// (session, email) pair already has a record.
type RecordStore interface {
	AddRecord(ctx context.Context, r *domain.AttendanceRecord) (string, error)
	MarkSynced(ctx context.Context, recordID string) error
	RecordsBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error)
}

type ViolationStore interface {
	LogViolation(ctx context.Context, v *domain.ViolationEntry) error
}

// Mirror replicates rows into the external spreadsheet.
type Mirror interface {
	AppendAttendanceRow(ctx context.Context, target string, r domain.AttendanceRecord) error
	AppendViolationRow(ctx context.Context, target string, v domain.ViolationEntry) error
	ProvisionSheet(ctx context.Context, s domain.Session) (spreadsheet, violationLog string, err error)
}

// Enqueuer is satisfied by *queue.Keyed.
type Enqueuer interface {
	Enqueue(task queue.Task, label, key string, cb queue.Callbacks) bool
}

// Lane keys. Attendance rows for one session are serialized; violation rows
// are serialized per teacher on a separate lane so they never delay attendance.
func AttendanceKey(sessionID string) string { return "session:" + sessionID }
func ViolationKey(teacherID string) string  { return "violations:" + teacherID }
func ProvisionKey(teacherID string) string  { return "teacher:" + teacherID }
