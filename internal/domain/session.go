package domain

import "time"

type SessionType string

const (
	Lecture SessionType = "lecture"
	TD      SessionType = "td"
	Lab     SessionType = "lab"
)

func (t SessionType) Valid() bool {
	switch t {
	case Lecture, TD, Lab:
		return true
	}
	return false
}

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Session struct {
	ID            string      `json:"id"`
	TeacherID     string      `json:"teacherId"`
	Type          SessionType `json:"type"`
	Title         string      `json:"title,omitempty"`
	Location      *Point      `json:"location,omitempty"`
	RadiusMeters  float64     `json:"radiusMeters,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	IsActive      bool        `json:"isActive"`
	AttendeeCount int         `json:"attendeeCount"`

	// Attached asynchronously once the external sheet has been provisioned.
	SpreadsheetTarget  string `json:"spreadsheetTarget,omitempty"`
	ViolationLogTarget string `json:"violationLogTarget,omitempty"`
}

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Radius returns the configured geofence radius, or fallback when unset.
func (s *Session) Radius(fallback float64) float64 {
	if s.RadiusMeters > 0 {
		return s.RadiusMeters
	}
	return fallback
}
