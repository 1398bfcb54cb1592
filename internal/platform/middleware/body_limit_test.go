package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1M", 1 << 20},
		{"512K", 512 << 10},
		{"2G", 2 << 30},
		{"1MB", 1 << 20},
		{"100", 100},
		{"", defaultBodyLimit},
		{"junk", defaultBodyLimit},
		{"-5M", defaultBodyLimit},
	}
	for _, tt := range tests {
		if got := parseSize(tt.in); got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func newBodyLimitServer(limit string) *echo.Echo {
	e := echo.New()
	e.Use(BodyLimit(limit))
	e.POST("/", func(c echo.Context) error {
		var buf [256]byte
		for {
			if _, err := c.Request().Body.Read(buf[:]); err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					return he
				}
				break
			}
		}
		return c.NoContent(http.StatusOK)
	})
	return e
}

func TestBodyLimitUnderLimit(t *testing.T) {
	e := newBodyLimitServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 100)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestBodyLimitRejectsByContentLength(t *testing.T) {
	e := newBodyLimitServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 2048)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestBodyLimitRejectsMidRead(t *testing.T) {
	// No Content-Length: the cap has to trip during the read.
	e := newBodyLimitServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 2048)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}
