package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/rollcall/internal/domain"
)

func TestAppendAttendanceRow(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second)
	rec := domain.AttendanceRecord{
		StudentName: "Ada",
		Email:       "ada@example.com",
		Status:      domain.Flagged,
		Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Violations:  []domain.Violation{{Type: domain.LocationViolation}, {Type: domain.DuplicateDevice}},
	}
	require.NoError(t, c.AppendAttendanceRow(context.Background(), "sheet-1", rec))

	assert.Equal(t, "appendAttendance", got.Action)
	assert.Equal(t, "sheet-1", got.Target)
	require.Len(t, got.Row, 9)
	assert.Equal(t, "2026-03-01T09:00:00Z", got.Row[0])
	assert.Equal(t, "FLAGGED", got.Row[3])
	assert.Equal(t, "LocationViolation, DuplicateDevice", got.Row[4])
}

func TestNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	err := c.AppendViolationRow(context.Background(), "log", domain.ViolationEntry{Type: domain.DuplicateDevice})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestProvisionSheet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "provision", req.Action)
		assert.Equal(t, "LAB 2026-03-01 09:00", req.Title)
		_ = json.NewEncoder(w).Encode(provisionResponse{Spreadsheet: "s-1", ViolationLog: "v-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	sheet, log, err := c.ProvisionSheet(context.Background(), domain.Session{
		ID:        "abc",
		Type:      domain.Lab,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", sheet)
	assert.Equal(t, "v-1", log)
}

func TestViolationRowUnknownDistance(t *testing.T) {
	row := ViolationRow(domain.ViolationEntry{Type: domain.DuplicateDevice})
	assert.Equal(t, "unknown", row[6])

	d := 152.4
	row = ViolationRow(domain.ViolationEntry{Type: domain.LocationViolation, Distance: &d})
	assert.Equal(t, "152", row[6])
}
