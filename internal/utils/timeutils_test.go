package utils

import (
	"errors"
	"testing"
	"time"
)

func TestParseAlertTimeLayouts(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 30, 2, 0, time.UTC)
	for _, value := range []string{
		"2025-03-01T12:30:02Z",
		"2025-03-01T12:30:02",
		"2025-03-01T14:30:02+02:00",
	} {
		got, err := ParseAlertTime(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %v, got %v", value, want, got)
		}
	}
}

func TestParseAlertTimeFractional(t *testing.T) {
	got, err := ParseAlertTime("2025-03-01T12:30:02.250")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Nanosecond() != 250_000_000 {
		t.Fatalf("expected 250ms fraction, got %dns", got.Nanosecond())
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
}

func TestParseAlertTimeRejectsGarbage(t *testing.T) {
	if _, err := ParseAlertTime(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
	if _, err := ParseAlertTime("yesterday"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap("detector.process", "db.1", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match")
	}
	if err.Error() != "detector.process [db.1]: boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if Wrap("noop", "x", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG").String() != "DEBUG" {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("warning").String() != "WARN" {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("bogus").String() != "INFO" {
		t.Fatalf("expected info fallback")
	}
}
