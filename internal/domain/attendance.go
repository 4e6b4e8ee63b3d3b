package domain

import "time"

type Status string

const (
	Present Status = "PRESENT"
	Flagged Status = "FLAGGED"
)

type ViolationType string

const (
	LocationViolation ViolationType = "LocationViolation"
	DuplicateDevice   ViolationType = "DuplicateDevice"
)

type Violation struct {
	Type    ViolationType `json:"type"`
	Details string        `json:"details"`
	// Distance in meters; nil when it could not be computed.
	Distance *float64 `json:"distance,omitempty"`
}

type AttendanceRecord struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	StudentName string      `json:"studentName"`
	Email       string      `json:"email"`
	IPAddress   string      `json:"ipAddress"`
	MACAddress  string      `json:"macAddress,omitempty"`
	Location    *Point      `json:"location,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      Status      `json:"status"`
	Violations  []Violation `json:"violations"`
	Synced      bool        `json:"synced"`
}

// ViolationEntry is a standalone row in the violation log. Earlier submitters
// implicated by a duplicate device get one of these without their record changing.
type ViolationEntry struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionId"`
	TeacherID   string        `json:"teacherId"`
	Email       string        `json:"email"`
	StudentName string        `json:"studentName"`
	IPAddress   string        `json:"ipAddress"`
	Type        ViolationType `json:"type"`
	Details     string        `json:"details"`
	Distance    *float64      `json:"distance,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// StoreStats summarizes persisted state for the health report.
type StoreStats struct {
	ActiveSessions int `json:"activeSessions"`
	Records        int `json:"records"`
	Flagged        int `json:"flagged"`
	Unsynced       int `json:"unsynced"`
	Violations     int `json:"violations"`
}
