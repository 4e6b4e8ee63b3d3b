package api

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/attendance"
	"github.com/SirClappington/rollcall/internal/domain"
	"github.com/SirClappington/rollcall/internal/queue"
)

// The response is the same whether the submission was recorded, flagged,
// ignored as a repeat or aimed at a dead session.
const submitAck = "attendance recorded"

func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON
	}
	return nil
}

func (s *server) submitAttendance(w http.ResponseWriter, r *http.Request) {
	var sub attendance.Submission
	if err := s.decode(w, r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub.SourceIP = clientIP(r)

	if err := s.svc.Submit(r.Context(), sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": submitAck})
}

// clientIP strips the port from RemoteAddr. RealIP, when mounted, has already
// replaced it with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var in attendance.NewSession
	if err := s.decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.CreateSession(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) sessionRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.Records(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

type healthReport struct {
	Status string                 `json:"status"`
	Queues map[string]queue.Stats `json:"queues"`
	Store  *domain.StoreStats     `json:"store,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	rep := healthReport{Status: "ok", Queues: make(map[string]queue.Stats, len(s.queues))}
	for _, q := range s.queues {
		rep.Queues[q.Name()] = q.Stats()
	}
	code := http.StatusOK
	if s.store != nil {
		st, err := s.store.Stats(r.Context())
		if err != nil {
			s.log.Warn("health: store stats", zap.Error(err))
			rep.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			rep.Store = &st
		}
	}
	writeJSON(w, code, rep)
}
