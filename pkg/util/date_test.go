package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-01-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}

	got, err = ParseDate("2024-01-02T15:04:05Z")
	if err != nil || FormatDate(got) != "2024-01-02" || got.Hour() != 0 {
		t.Fatalf("expected truncated day, got %v (%v)", got, err)
	}

	if _, err := ParseDate("02/01/2024"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}

func TestParseDateDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	if got := ParseDateDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseDateDefault("nope", def); !got.Equal(def) {
		t.Fatalf("expected default on invalid input")
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	got := DateOf(time.Date(2024, 5, 6, 23, 30, 0, 0, loc))
	if got.Location() != time.UTC || FormatDate(got) != "2024-05-06" {
		t.Fatalf("unexpected %v", got)
	}
}
