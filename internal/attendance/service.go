// Package attendance turns raw student submissions into persisted attendance
// records and schedules their mirroring to the teacher's spreadsheet.
//
// Submissions against unknown, inactive or expired sessions, and repeated
// submissions from the same email, are acknowledged exactly like accepted ones
// so an unauthenticated caller cannot probe session ids or learn whether it was
// flagged.
package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/domain"
	"github.com/SirClappington/rollcall/internal/queue"
)

const callbackTimeout = 10 * time.Second

type Deps struct {
	Sessions   SessionStore
	Records    RecordStore
	Violations ViolationStore
	// Mirror and Queue are optional; without them nothing is mirrored.
	Mirror Mirror
	Queue  Enqueuer
	Logger *zap.Logger

	DefaultRadius float64
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	Now           func() time.Time
}

type Service struct {
	sessions   SessionStore
	records    RecordStore
	violations ViolationStore
	mirror     Mirror
	queue      Enqueuer
	log        *zap.Logger
	validate   *validator.Validate

	defaultRadius float64
	defaultTTL    time.Duration
	maxTTL        time.Duration
	now           func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		sessions:      d.Sessions,
		records:       d.Records,
		violations:    d.Violations,
		mirror:        d.Mirror,
		queue:         d.Queue,
		log:           d.Logger,
		validate:      newValidator(),
		defaultRadius: d.DefaultRadius,
		defaultTTL:    d.DefaultTTL,
		maxTTL:        d.MaxTTL,
		now:           d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = 15 * time.Minute
	}
	if s.maxTTL < s.defaultTTL {
		s.maxTTL = s.defaultTTL
	}
	return s
}

// Validity is the result of a session lookup for submission purposes.
type Validity struct {
	Valid   bool
	Session *domain.Session
	Reason  string
}

// ValidSession looks the session up and deactivates it if it has expired.
// Lookup failures are reported as invalid, indistinguishable from a missing session.
func (s *Service) ValidSession(ctx context.Context, id string) Validity {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Validity{Reason: "not found"}
	}
	if err != nil {
		s.log.Error("session lookup failed", zap.String("session", id), zap.Error(err))
		return Validity{Reason: "lookup failed"}
	}
	if !sess.IsActive {
		return Validity{Session: sess, Reason: "inactive"}
	}
	if sess.Expired(s.now()) {
		if err := s.sessions.DeactivateSession(ctx, id); err != nil {
			s.log.Warn("deactivate expired session", zap.String("session", id), zap.Error(err))
		}
		sess.IsActive = false
		return Validity{Session: sess, Reason: "expired"}
	}
	return Validity{Valid: true, Session: sess}
}

// Submit validates, checks and persists one submission, then queues its
// mirroring. It returns nil for accepted, duplicate and invalid-session
// submissions alike. Only malformed input (*ValidationError) and a failure to
// persist the record are reported.
func (s *Service) Submit(ctx context.Context, sub Submission) error {
	sub.normalize()
	if err := checkStruct(s.validate, sub); err != nil {
		return err
	}
	if err := pairedCoords(sub.Lat, sub.Lng); err != nil {
		return err
	}

	v := s.ValidSession(ctx, sub.SessionID)
	if !v.Valid {
		s.log.Debug("submission ignored", zap.String("session", sub.SessionID), zap.String("reason", v.Reason))
		return nil
	}
	sess := v.Session

	seen, err := s.sessions.HasAttendee(ctx, sess.ID, sub.Email)
	if err != nil {
		// AddRecord still refuses a second record for the pair.
		s.log.Warn("attendee lookup failed", zap.String("session", sess.ID), zap.Error(err))
	}
	if seen {
		return nil
	}

	existing, err := s.records.RecordsBySession(ctx, sess.ID)
	if err != nil {
		s.log.Warn("duplicate device check skipped", zap.String("session", sess.ID), zap.Error(err))
		existing = nil
	}
	res := Check(sess, sub, existing, s.defaultRadius)

	rec := &domain.AttendanceRecord{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		StudentName: sub.StudentName,
		Email:       sub.Email,
		IPAddress:   sub.SourceIP,
		MACAddress:  sub.MACAddress,
		Location:    sub.Location(),
		Timestamp:   s.now().UTC(),
		Status:      res.Status(),
		Violations:  res.Violations,
	}
	id, err := s.records.AddRecord(ctx, rec)
	if errors.Is(err, domain.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "persist attendance for session %s", sess.ID)
	}
	rec.ID = id

	if err := s.sessions.AddAttendee(ctx, sess.ID, sub.Email); err != nil {
		s.log.Warn("add attendee", zap.String("session", sess.ID), zap.Error(err))
	}

	entries := violationEntries(sess, rec, res, s.now().UTC())
	for i := range entries {
		if err := s.violations.LogViolation(ctx, &entries[i]); err != nil {
			s.log.Warn("log violation", zap.String("session", sess.ID), zap.String("email", entries[i].Email), zap.Error(err))
		}
	}
	if rec.Status == domain.Flagged {
		s.log.Info("submission flagged",
			zap.String("session", sess.ID), zap.String("email", rec.Email), zap.Int("violations", len(rec.Violations)))
	}

	s.scheduleMirror(*sess, *rec, entries)
	return nil
}

// violationEntries builds the standalone log rows: one per violation of the
// new record, plus one for every earlier submitter sharing its device.
func violationEntries(sess *domain.Session, rec *domain.AttendanceRecord, res CheckResult, at time.Time) []domain.ViolationEntry {
	if len(rec.Violations) == 0 {
		return nil
	}
	out := make([]domain.ViolationEntry, 0, len(rec.Violations)+len(res.SharedDevice))
	for _, v := range rec.Violations {
		out = append(out, domain.ViolationEntry{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			TeacherID:   sess.TeacherID,
			Email:       rec.Email,
			StudentName: rec.StudentName,
			IPAddress:   rec.IPAddress,
			Type:        v.Type,
			Details:     v.Details,
			Distance:    v.Distance,
			CreatedAt:   at,
		})
	}
	for _, other := range res.SharedDevice {
		out = append(out, domain.ViolationEntry{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			TeacherID:   sess.TeacherID,
			Email:       other.Email,
			StudentName: other.StudentName,
			IPAddress:   other.IPAddress,
			Type:        domain.DuplicateDevice,
			Details:     "same device as " + rec.Email,
			CreatedAt:   at,
		})
	}
	return out
}

// scheduleMirror hands copies of the record and entries to the queue; nothing
// request-scoped is captured.
func (s *Service) scheduleMirror(sess domain.Session, rec domain.AttendanceRecord, entries []domain.ViolationEntry) {
	if s.mirror == nil || s.queue == nil || sess.SpreadsheetTarget == "" {
		return
	}
	target := sess.SpreadsheetTarget
	log := s.log.With(zap.String("session", sess.ID), zap.String("record", rec.ID))

	s.queue.Enqueue(func(ctx context.Context) error {
		return s.mirror.AppendAttendanceRow(ctx, target, rec)
	}, "attendance "+rec.ID, AttendanceKey(sess.ID), queue.Callbacks{
		OnSuccess: func() {
			ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			if err := s.records.MarkSynced(ctx, rec.ID); err != nil {
				log.Warn("mark synced", zap.Error(err))
			}
		},
		OnFailure: func(err error) {
			log.Warn("attendance row not mirrored", zap.Error(err))
		},
	})

	if rec.Status != domain.Flagged || len(entries) == 0 {
		return
	}
	logTarget := sess.ViolationLogTarget
	if logTarget == "" {
		logTarget = target
	}
	// sent survives retries so rows already appended are not written twice.
	sent := 0
	s.queue.Enqueue(func(ctx context.Context) error {
		for ; sent < len(entries); sent++ {
			e := entries[sent]
			if err := s.mirror.AppendViolationRow(ctx, logTarget, e); err != nil {
				return errors.Wrapf(err, "violation row for %s", e.Email)
			}
		}
		return nil
	}, "violations "+rec.ID, ViolationKey(sess.TeacherID), queue.Callbacks{
		OnFailure: func(err error) {
			log.Warn("violation rows not mirrored", zap.Error(err))
		},
	})
}
