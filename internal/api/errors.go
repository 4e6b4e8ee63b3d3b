package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/attendance"
	"github.com/SirClappington/rollcall/internal/domain"
)

var (
	errBadJSON  = newHTTPError(http.StatusBadRequest, "invalid JSON body")
	errNotFound = newHTTPError(http.StatusNotFound, "not found")
)

type httpError struct {
	code    int
	message string
}

func newHTTPError(code int, msg string) *httpError { return &httpError{code, msg} }

func (e *httpError) Error() string { return e.message }

// writeError maps an error to a status code and JSON body. Anything it does
// not recognize is logged and reported as a bare 500.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code    int
		message interface{}
		verr    *attendance.ValidationError
		herr    *httpError
	)
	switch {
	case errors.As(err, &herr):
		code = herr.code
		message = map[string]string{"error": herr.message}
	case errors.As(err, &verr):
		code = http.StatusBadRequest
		if len(verr.Fields) > 0 {
			fldErrs := make(map[string]string, len(verr.Fields))
			for _, f := range verr.Fields {
				fldErrs[f.Field] = f.Error
			}
			message = map[string]interface{}{"error": verr.Error(), "fields": fldErrs}
		} else {
			message = map[string]string{"error": verr.Error()}
		}
	case errors.Is(err, domain.ErrNotFound):
		code = errNotFound.code
		message = map[string]string{"error": errNotFound.message}
	default:
		code = http.StatusInternalServerError
		msg := http.StatusText(code)
		message = map[string]string{"error": msg}
		s.log.Error(msg,
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, code, message)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
