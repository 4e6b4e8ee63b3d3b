package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/rollcall/internal/domain"
)

// janitorLockID is the advisory lock key that elects a single expiry sweeper.
const janitorLockID = 42

// Store is the Postgres source of truth for sessions, records and violations.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const sessionColumns = `id, teacher_id, type, title, lat, lng, radius_m, created_at, expires_at,
is_active, attendee_count, spreadsheet_target, violation_log_target`

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	var lat, lng *float64
	if sess.Location != nil {
		lat, lng = &sess.Location.Lat, &sess.Location.Lng
	}
	_, err := s.db.Exec(ctx, `insert into sessions(`+sessionColumns+`)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sess.ID, sess.TeacherID, string(sess.Type), sess.Title, lat, lng, sess.RadiusMeters,
		sess.CreatedAt, sess.ExpiresAt, sess.IsActive, sess.AttendeeCount,
		sess.SpreadsheetTarget, sess.ViolationLogTarget,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	return errors.Wrap(err, "insert session")
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `select `+sessionColumns+` from sessions where id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return sess, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		sess     domain.Session
		typ      string
		lat, lng *float64
	)
	err := row.Scan(&sess.ID, &sess.TeacherID, &typ, &sess.Title, &lat, &lng, &sess.RadiusMeters,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.IsActive, &sess.AttendeeCount,
		&sess.SpreadsheetTarget, &sess.ViolationLogTarget)
	if err != nil {
		return nil, err
	}
	sess.Type = domain.SessionType(typ)
	if lat != nil && lng != nil {
		sess.Location = &domain.Point{Lat: *lat, Lng: *lng}
	}
	return &sess, nil
}

func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `update sessions set is_active = false where id = $1`, id)
	return errors.Wrapf(err, "deactivate session %s", id)
}

func (s *Store) AttachTargets(ctx context.Context, id, spreadsheet, violationLog string) error {
	tag, err := s.db.Exec(ctx,
		`update sessions set spreadsheet_target = $2, violation_log_target = $3 where id = $1`,
		id, spreadsheet, violationLog)
	if err != nil {
		return errors.Wrapf(err, "attach targets to session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) AddAttendee(ctx context.Context, sessionID, _ string) error {
	_, err := s.db.Exec(ctx,
		`update sessions set attendee_count = attendee_count + 1 where id = $1`, sessionID)
	return errors.Wrapf(err, "count attendee for session %s", sessionID)
}

func (s *Store) HasAttendee(ctx context.Context, sessionID, email string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`select exists(select 1 from attendance_records where session_id = $1 and email = $2)`,
		sessionID, email).Scan(&ok)
	return ok, errors.Wrap(err, "has attendee")
}

// ExpireDue deactivates overdue sessions and returns their ids. Only the
// holder of the janitor advisory lock sweeps; other callers get nothing.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin expiry sweep")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var leader bool
	if err := tx.QueryRow(ctx, `select pg_try_advisory_xact_lock($1)`, janitorLockID).Scan(&leader); err != nil {
		return nil, errors.Wrap(err, "advisory lock")
	}
	if !leader {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `update sessions
   set is_active = false
 where is_active
   and expires_at < $1
returning id`, now)
	if err != nil {
		return nil, errors.Wrap(err, "expire sessions")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "expire sessions")
	}
	return ids, errors.Wrap(tx.Commit(ctx), "commit expiry sweep")
}

// AddRecord persists a record. The (session_id, email) unique index turns a
// racing second submission into domain.ErrDuplicate.
func (s *Store) AddRecord(ctx context.Context, r *domain.AttendanceRecord) (string, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	var lat, lng *float64
	if r.Location != nil {
		lat, lng = &r.Location.Lat, &r.Location.Lng
	}
	violations := r.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}
	_, err := s.db.Exec(ctx, `insert into attendance_records(
id, session_id, student_name, email, ip_address, mac_address, lat, lng, submitted_at, status, violations, synced
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false)`,
		id, r.SessionID, r.StudentName, r.Email, r.IPAddress, r.MACAddress, lat, lng,
		r.Timestamp, string(r.Status), violations,
	)
	if isUniqueViolation(err) {
		return "", domain.ErrDuplicate
	}
	if err != nil {
		return "", errors.Wrap(err, "insert attendance record")
	}
	return id, nil
}

func (s *Store) MarkSynced(ctx context.Context, recordID string) error {
	_, err := s.db.Exec(ctx, `update attendance_records set synced = true where id = $1`, recordID)
	return errors.Wrapf(err, "mark record %s synced", recordID)
}

func (s *Store) RecordsBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	rows, err := s.db.Query(ctx, `select id, session_id, student_name, email, ip_address, mac_address,
lat, lng, submitted_at, status, violations, synced
  from attendance_records
 where session_id = $1
 order by submitted_at asc`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	var out []domain.AttendanceRecord
	for rows.Next() {
		var (
			r        domain.AttendanceRecord
			status   string
			lat, lng *float64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StudentName, &r.Email, &r.IPAddress, &r.MACAddress,
			&lat, &lng, &r.Timestamp, &status, &r.Violations, &r.Synced); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		r.Status = domain.Status(status)
		if lat != nil && lng != nil {
			r.Location = &domain.Point{Lat: *lat, Lng: *lng}
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "list records")
}

func (s *Store) LogViolation(ctx context.Context, v *domain.ViolationEntry) error {
	id := v.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `insert into violations(
id, session_id, teacher_id, email, student_name, ip_address, type, details, distance_m, created_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, v.SessionID, v.TeacherID, v.Email, v.StudentName, v.IPAddress, string(v.Type), v.Details,
		v.Distance, v.CreatedAt,
	)
	return errors.Wrap(err, "insert violation")
}

func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	var st domain.StoreStats
	err := s.db.QueryRow(ctx, `select
  (select count(*) from sessions where is_active),
  (select count(*) from attendance_records),
  (select count(*) from attendance_records where status = 'FLAGGED'),
  (select count(*) from attendance_records where not synced),
  (select count(*) from violations)`).Scan(
		&st.ActiveSessions, &st.Records, &st.Flagged, &st.Unsynced, &st.Violations)
	return st, errors.Wrap(err, "store stats")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "postgres ping")
}
