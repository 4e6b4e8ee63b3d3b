package attendance

import (
	"fmt"
	"strings"

	"github.com/SirClappington/rollcall/internal/domain"
)

// CheckResult is the outcome of the anti-cheat checks for one submission.
type CheckResult struct {
	Violations []domain.Violation
	// Distance from the classroom in meters; nil when unknown or not checked.
	Distance *float64
	// Earlier submitters of the same session sharing the IP or MAC address.
	SharedDevice []domain.AttendanceRecord
}

func (r CheckResult) Status() domain.Status {
	if len(r.Violations) == 0 {
		return domain.Present
	}
	return domain.Flagged
}

// Check runs the geofence and duplicate-device checks. existing are the records
// already persisted for the session; defaultRadius applies when the session has none.
func Check(sess *domain.Session, sub Submission, existing []domain.AttendanceRecord, defaultRadius float64) CheckResult {
	var res CheckResult

	v, dist := checkGeofence(sess, sub.Location(), defaultRadius)
	res.Distance = dist
	if v != nil {
		res.Violations = append(res.Violations, *v)
	}

	res.SharedDevice = sharedDevice(sub, existing)
	if len(res.SharedDevice) > 0 {
		emails := make([]string, 0, len(res.SharedDevice))
		for _, r := range res.SharedDevice {
			emails = append(emails, r.Email)
		}
		res.Violations = append(res.Violations, domain.Violation{
			Type:    domain.DuplicateDevice,
			Details: "same device as " + strings.Join(emails, ", "),
		})
	}
	return res
}

// checkGeofence skips sessions without a classroom location and reports an
// unknown distance when the student sent no coordinates. The boundary itself
// is inside the fence.
func checkGeofence(sess *domain.Session, student *domain.Point, defaultRadius float64) (*domain.Violation, *float64) {
	if sess.Location == nil || student == nil {
		return nil, nil
	}
	d := Distance(*sess.Location, *student)
	radius := sess.Radius(defaultRadius)
	if d <= radius {
		return nil, &d
	}
	return &domain.Violation{
		Type:     domain.LocationViolation,
		Details:  fmt.Sprintf("%.0fm from classroom, allowed %.0fm", d, radius),
		Distance: &d,
	}, &d
}

func sharedDevice(sub Submission, existing []domain.AttendanceRecord) []domain.AttendanceRecord {
	var out []domain.AttendanceRecord
	for _, r := range existing {
		if r.Email == sub.Email {
			continue
		}
		sameIP := sub.SourceIP != "" && r.IPAddress == sub.SourceIP
		sameMAC := sub.MACAddress != "" && strings.EqualFold(r.MACAddress, sub.MACAddress)
		if sameIP || sameMAC {
			out = append(out, r)
		}
	}
	return out
}
