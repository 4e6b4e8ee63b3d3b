package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/domain"
	"github.com/SirClappington/rollcall/internal/queue"
)

// CreateSession opens a session whose id is the QR token handed to students.
// When no spreadsheet target is given and a mirror is configured, the sheet is
// provisioned in the background and attached to the session once it exists.
func (s *Service) CreateSession(ctx context.Context, in NewSession) (*domain.Session, error) {
	if err := checkStruct(s.validate, in); err != nil {
		return nil, err
	}
	if err := pairedCoords(in.Lat, in.Lng); err != nil {
		return nil, err
	}

	ttl := s.defaultTTL
	if in.DurationMinutes > 0 {
		ttl = time.Duration(in.DurationMinutes) * time.Minute
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := s.now().UTC()
	sess := &domain.Session{
		ID:                uuid.NewString(),
		TeacherID:         in.TeacherID,
		Type:              in.Type,
		Title:             in.Title,
		RadiusMeters:      in.RadiusMeters,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		IsActive:          true,
		SpreadsheetTarget: in.SpreadsheetTarget,
	}
	if in.Lat != nil {
		sess.Location = &domain.Point{Lat: *in.Lat, Lng: *in.Lng}
	}

	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	s.log.Info("session created",
		zap.String("session", sess.ID), zap.String("teacher", sess.TeacherID), zap.Time("expires", sess.ExpiresAt))

	if sess.SpreadsheetTarget == "" {
		s.scheduleProvisioning(*sess)
	}
	return sess, nil
}

func (s *Service) scheduleProvisioning(sess domain.Session) {
	if s.mirror == nil || s.queue == nil {
		return
	}
	log := s.log.With(zap.String("session", sess.ID))
	var attachedAt time.Time
	s.queue.Enqueue(func(ctx context.Context) error {
		sheet, violationLog, err := s.mirror.ProvisionSheet(ctx, sess)
		if err != nil {
			return err
		}
		if err := s.sessions.AttachTargets(ctx, sess.ID, sheet, violationLog); err != nil {
			return err
		}
		sess.SpreadsheetTarget, sess.ViolationLogTarget = sheet, violationLog
		attachedAt = s.now().UTC()
		return nil
	}, "provision "+sess.ID, ProvisionKey(sess.TeacherID), queue.Callbacks{
		OnSuccess: func() {
			log.Info("spreadsheet attached")
			s.scheduleBackfill(sess, attachedAt)
		},
		OnFailure: func(err error) { log.Warn("spreadsheet not provisioned", zap.Error(err)) },
	})
}

// scheduleBackfill mirrors records that were persisted while the session had
// no sheet yet. Later submissions see the target and mirror themselves, so
// only records stamped up to attachedAt are considered.
func (s *Service) scheduleBackfill(sess domain.Session, attachedAt time.Time) {
	log := s.log.With(zap.String("session", sess.ID))
	s.queue.Enqueue(func(ctx context.Context) error {
		recs, err := s.records.RecordsBySession(ctx, sess.ID)
		if err != nil {
			return err
		}
		n := 0
		for _, rec := range recs {
			if rec.Synced || rec.Timestamp.After(attachedAt) {
				continue
			}
			if err := s.mirror.AppendAttendanceRow(ctx, sess.SpreadsheetTarget, rec); err != nil {
				return errors.Wrapf(err, "backfill %s", rec.ID)
			}
			// Marked one by one so a retry resumes after the last row written.
			if err := s.records.MarkSynced(ctx, rec.ID); err != nil {
				log.Warn("mark synced", zap.String("record", rec.ID), zap.Error(err))
			}
			n++
		}
		if n > 0 {
			log.Info("backfilled attendance rows", zap.Int("rows", n))
		}
		return nil
	}, "backfill "+sess.ID, AttendanceKey(sess.ID), queue.Callbacks{
		OnFailure: func(err error) { log.Warn("attendance backfill failed", zap.Error(err)) },
	})
}

// Session returns the session for the teacher-facing view.
func (s *Service) Session(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsActive && sess.Expired(s.now()) {
		if err := s.sessions.DeactivateSession(ctx, id); err != nil {
			s.log.Warn("deactivate expired session", zap.String("session", id), zap.Error(err))
		}
		sess.IsActive = false
	}
	return sess, nil
}

// Records lists a session's attendance, flagged ones included.
func (s *Service) Records(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.records.RecordsBySession(ctx, sessionID)
}
