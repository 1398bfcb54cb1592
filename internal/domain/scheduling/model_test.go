package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/clinicore/clinicore/pkg/apperror"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.Year() != 2025 || d.Month() != time.June || d.Day() != 10 {
		t.Errorf("unexpected date: %v", d)
	}

	if _, err := ParseDate("10/06/2025"); err == nil {
		t.Error("expected error for non-ISO format")
	}
	if _, err := ParseDate(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestDateOfTruncates(t *testing.T) {
	instant := time.Date(2025, time.June, 10, 23, 45, 12, 0, time.UTC)
	d := DateOf(instant)
	if d.String() != "2025-06-10" {
		t.Errorf("expected 2025-06-10, got %s", d)
	}
	if d.Hour() != 0 || d.Minute() != 0 {
		t.Error("expected midnight")
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := NewDate(2025, time.June, 10)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2025-06-10"` {
		t.Errorf("unexpected marshal output %s", b)
	}

	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equal(d.Time) {
		t.Errorf("round trip mismatch: %v != %v", back, d)
	}

	var zero Date
	if err := json.Unmarshal([]byte(`null`), &zero); err != nil {
		t.Fatalf("Unmarshal null: %v", err)
	}
	if !zero.IsZero() {
		t.Error("null should decode to the zero date")
	}
}

func TestDateScan(t *testing.T) {
	var d Date
	if err := d.Scan(time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Scan time.Time: %v", err)
	}
	if d.String() != "2025-06-10" {
		t.Errorf("expected 2025-06-10, got %s", d)
	}

	if err := d.Scan("2025-07-01"); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if d.String() != "2025-07-01" {
		t.Errorf("expected 2025-07-01, got %s", d)
	}

	if err := d.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestDateValue(t *testing.T) {
	v, err := NewDate(2025, time.June, 10).Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if _, ok := v.(time.Time); !ok {
		t.Errorf("expected time.Time, got %T", v)
	}

	v, err = (Date{}).Value()
	if err != nil {
		t.Fatalf("Value zero: %v", err)
	}
	if v != nil {
		t.Error("zero date should map to NULL")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		minutes int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:00", 540, false},
		{"23:59", 1439, false},
		{"9:00", 0, true},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"morning", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseClock(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseClock(%q): %v", tt.in, err)
			continue
		}
		if got != tt.minutes {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.minutes)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"booked", StatusBooked},
		{"confirmed", StatusConfirmed},
		{"completed", StatusCompleted},
		{"cancelled", StatusCancelled},
		// legacy labels fold into booked
		{"pending", StatusBooked},
		{"scheduled", StatusBooked},
		{"  Booked ", StatusBooked},
		{"PENDING", StatusBooked},
	}
	for _, tt := range tests {
		got, err := normalizeStatus(tt.in)
		if err != nil {
			t.Errorf("normalizeStatus(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"open", "done", "canceled", "no-show", ""} {
		if _, err := normalizeStatus(bad); apperror.CodeOf(err) != apperror.CodeValidation {
			t.Errorf("normalizeStatus(%q): expected validation_failed, got %v", bad, err)
		}
	}
}

func TestNormalizeTypeAndPriority(t *testing.T) {
	got, err := normalizeType("")
	if err != nil || got != TypeConsultation {
		t.Errorf("empty type should default to consultation, got %q (%v)", got, err)
	}
	if got, _ = normalizeType(" Follow_Up "); got != "follow_up" {
		t.Errorf("expected follow_up, got %q", got)
	}
	if _, err := normalizeType("house_call"); apperror.CodeOf(err) != apperror.CodeValidation {
		t.Errorf("expected validation_failed, got %v", err)
	}

	got, err = normalizePriority("")
	if err != nil || got != PriorityRoutine {
		t.Errorf("empty priority should default to routine, got %q (%v)", got, err)
	}
	if _, err := normalizePriority("asap"); apperror.CodeOf(err) != apperror.CodeValidation {
		t.Errorf("expected validation_failed, got %v", err)
	}
}

func TestAppointmentStartsAt(t *testing.T) {
	a := &Appointment{Date: NewDate(2025, time.June, 10), Time: "09:30"}
	want := time.Date(2025, time.June, 10, 9, 30, 0, 0, time.UTC)
	if got := a.StartsAt(); !got.Equal(want) {
		t.Errorf("StartsAt = %v, want %v", got, want)
	}
}
