// Package mirror talks to the spreadsheet bridge, a small web app in front of
// the spreadsheet API that appends rows and provisions per-session sheets.
// Every call is a JSON POST; any non-2xx answer is an error so the write
// queue retries it.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/rollcall/internal/domain"
)

type Client struct {
	url   string
	token string
	hc    *http.Client
}

func New(url, token string, timeout time.Duration) *Client {
	return &Client{url: url, token: token, hc: &http.Client{Timeout: timeout}}
}

type request struct {
	Action string        `json:"action"`
	Target string        `json:"target,omitempty"`
	Row    []interface{} `json:"row,omitempty"`
	Title  string        `json:"title,omitempty"`
}

type provisionResponse struct {
	Spreadsheet  string `json:"spreadsheetId"`
	ViolationLog string `json:"violationLogId"`
}

func (c *Client) AppendAttendanceRow(ctx context.Context, target string, r domain.AttendanceRecord) error {
	return c.post(ctx, request{Action: "appendAttendance", Target: target, Row: AttendanceRow(r)}, nil)
}

func (c *Client) AppendViolationRow(ctx context.Context, target string, v domain.ViolationEntry) error {
	return c.post(ctx, request{Action: "appendViolation", Target: target, Row: ViolationRow(v)}, nil)
}

// ProvisionSheet creates the attendance sheet and violation log for a session.
func (c *Client) ProvisionSheet(ctx context.Context, s domain.Session) (string, string, error) {
	title := s.Title
	if title == "" {
		title = fmt.Sprintf("%s %s", strings.ToUpper(string(s.Type)), s.CreatedAt.Format("2006-01-02 15:04"))
	}
	var resp provisionResponse
	if err := c.post(ctx, request{Action: "provision", Target: s.ID, Title: title}, &resp); err != nil {
		return "", "", err
	}
	if resp.Spreadsheet == "" {
		return "", "", errors.New("mirror: provision returned no spreadsheet id")
	}
	return resp.Spreadsheet, resp.ViolationLog, nil
}

func (c *Client) post(ctx context.Context, body request, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "mirror: encode")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "mirror: request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mirror: %s", body.Action)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("mirror: %s: status %d: %s", body.Action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "mirror: decode %s", body.Action)
}

// AttendanceRow is the column layout of the attendance sheet.
func AttendanceRow(r domain.AttendanceRecord) []interface{} {
	var lat, lng interface{} = "", ""
	if r.Location != nil {
		lat, lng = r.Location.Lat, r.Location.Lng
	}
	kinds := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		kinds = append(kinds, string(v.Type))
	}
	return []interface{}{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.StudentName,
		r.Email,
		string(r.Status),
		strings.Join(kinds, ", "),
		r.IPAddress,
		r.MACAddress,
		lat,
		lng,
	}
}

// ViolationRow is the column layout of the violation log.
func ViolationRow(v domain.ViolationEntry) []interface{} {
	var dist interface{} = "unknown"
	if v.Distance != nil {
		dist = fmt.Sprintf("%.0f", *v.Distance)
	}
	return []interface{}{
		v.CreatedAt.UTC().Format(time.RFC3339),
		v.SessionID,
		v.StudentName,
		v.Email,
		string(v.Type),
		v.Details,
		dist,
		v.IPAddress,
	}
}
