package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error into one of the failure families the HTTP
// layer maps onto status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPastDate
	KindAvailability
	KindConflict
	KindState
	KindAuthorization
	KindNotFound
	KindStorage
)

// Code identifies the precise failure mode within a kind. Codes are
// stable strings exposed in API error payloads.
type Code string

const (
	CodeValidation           Code = "validation_failed"
	CodeInvalidRange         Code = "invalid_range"
	CodePastDate             Code = "past_date"
	CodeOverlap              Code = "slot_overlap"
	CodeDoctorInactive       Code = "doctor_inactive"
	CodeNoAvailability       Code = "no_availability"
	CodeSlotTaken            Code = "slot_taken"
	CodeDuplicate            Code = "duplicate_record"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeAlreadyCompleted     Code = "already_completed"
	CodeNotCompletable       Code = "not_completable"
	CodeTooLateToCancel      Code = "too_late_to_cancel"
	CodeMissingDiagnosis     Code = "missing_diagnosis"
	CodeFollowUpDateRequired Code = "follow_up_date_required"
	CodeNotOwner             Code = "not_owner"
	CodeNotAssignedDoctor    Code = "not_assigned_doctor"
	CodeRoleDenied           Code = "role_denied"
	CodeNotFound             Code = "not_found"
	CodeStorage              Code = "storage_unavailable"
)

// Error is the one error type domain services return. Kind drives the
// HTTP status, Code and Message reach the client, Err stays internal.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by code, so callers can compare against
// a constructed sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps the error kind to a status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindPastDate, KindAvailability, KindState:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Newf(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or missing caller input.
func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Validationf(format string, args ...interface{}) *Error {
	return Newf(KindValidation, CodeValidation, format, args...)
}

func InvalidRange(message string) *Error {
	return New(KindValidation, CodeInvalidRange, message)
}

func PastDate(message string) *Error {
	return New(KindPastDate, CodePastDate, message)
}

func Overlap(message string) *Error {
	return New(KindAvailability, CodeOverlap, message)
}

func DoctorInactive(message string) *Error {
	return New(KindValidation, CodeDoctorInactive, message)
}

func NoAvailability(message string) *Error {
	return New(KindAvailability, CodeNoAvailability, message)
}

func SlotTaken(message string) *Error {
	return New(KindConflict, CodeSlotTaken, message)
}

// Duplicate reports a uniqueness violation outside the booking path,
// e.g. a reused email or license number.
func Duplicate(message string) *Error {
	return New(KindConflict, CodeDuplicate, message)
}

func InvalidTransition(from, to string) *Error {
	return Newf(KindState, CodeInvalidTransition, "cannot move appointment from %s to %s", from, to)
}

func AlreadyCompleted(message string) *Error {
	return New(KindState, CodeAlreadyCompleted, message)
}

func NotCompletable(message string) *Error {
	return New(KindState, CodeNotCompletable, message)
}

func TooLateToCancel(message string) *Error {
	return New(KindState, CodeTooLateToCancel, message)
}

func MissingDiagnosis(message string) *Error {
	return New(KindValidation, CodeMissingDiagnosis, message)
}

func FollowUpDateRequired(message string) *Error {
	return New(KindValidation, CodeFollowUpDateRequired, message)
}

func NotOwner(message string) *Error {
	return New(KindAuthorization, CodeNotOwner, message)
}

func NotAssignedDoctor(message string) *Error {
	return New(KindAuthorization, CodeNotAssignedDoctor, message)
}

func RoleDenied(message string) *Error {
	return New(KindAuthorization, CodeRoleDenied, message)
}

// NotFound reports a missing resource by name, e.g. "appointment".
func NotFound(resource string) *Error {
	return Newf(KindNotFound, CodeNotFound, "%s not found", resource)
}

// Storage wraps a persistence failure. The underlying error is kept for
// logs but never serialized to clients.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Code: CodeStorage, Message: "storage unavailable", Err: err}
}

// CodeOf extracts the code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps any error to a status code; non-apperror values are
// treated as internal faults.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// ToHTTP converts err into an echo HTTP error carrying the code and
// message. Unknown errors become opaque 500s so internals never leak.
func ToHTTP(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return echo.NewHTTPError(e.HTTPStatus(), echo.Map{"code": e.Code, "message": e.Message})
}
