package attendance

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/SirClappington/rollcall/internal/domain"
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

var errInvalidInput = errors.New("invalid input")

// Submission is a raw attendance submission. SourceIP is filled in by the
// transport, never by the student.
type Submission struct {
	SessionID   string   `json:"sessionId" validate:"required,max=64"`
	StudentName string   `json:"studentName" validate:"required,max=200"`
	Email       string   `json:"email" validate:"required,email,max=254"`
	MACAddress  string   `json:"macAddress,omitempty" validate:"omitempty,mac"`
	Lat         *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng         *float64 `json:"lng,omitempty" validate:"omitempty,longitude"`
	SourceIP    string   `json:"-"`
}

func (s *Submission) normalize() {
	s.SessionID = strings.TrimSpace(s.SessionID)
	s.StudentName = strings.TrimSpace(s.StudentName)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.MACAddress = strings.ToLower(strings.TrimSpace(s.MACAddress))
}

// Location is nil unless both coordinates were sent.
func (s Submission) Location() *domain.Point {
	if s.Lat == nil || s.Lng == nil {
		return nil
	}
	return &domain.Point{Lat: *s.Lat, Lng: *s.Lng}
}

// NewSession is a teacher's request to open an attendance session.
type NewSession struct {
	TeacherID         string             `json:"teacherId" validate:"required,max=64"`
	Type              domain.SessionType `json:"type" validate:"required,oneof=lecture td lab"`
	Title             string             `json:"title" validate:"max=200"`
	Lat               *float64           `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng               *float64           `json:"lng,omitempty" validate:"omitempty,longitude"`
	RadiusMeters      float64            `json:"radiusMeters" validate:"gte=0,lte=100000"`
	DurationMinutes   int                `json:"durationMinutes" validate:"gte=0"`
	SpreadsheetTarget string             `json:"spreadsheetTarget" validate:"max=256"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// checkStruct converts validator failures into a *ValidationError.
func checkStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate")
	}
	flds := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		flds = append(flds, FieldError{Field: fe.Field(), Error: describe(fe)})
	}
	return NewValidationError(errInvalidInput, flds...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "latitude", "longitude", "mac":
		return "must be a valid " + fe.Tag()
	}
	return "is invalid"
}

// pairedCoords rejects a lone latitude or longitude.
func pairedCoords(lat, lng *float64) error {
	if (lat == nil) == (lng == nil) {
		return nil
	}
	missing := "lng"
	if lat == nil {
		missing = "lat"
	}
	return NewValidationError(errInvalidInput, FieldError{Field: missing, Error: "lat and lng must be sent together"})
}
