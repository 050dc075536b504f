package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/morezero/workerbridge/pkg/db"
)

const mainTestPrefix = "cmd/gateway:main_test"

func TestUsage_NonEmpty(t *testing.T) {
	if len(usage) == 0 {
		t.Fatalf("%s - usage string is empty", mainTestPrefix)
	}
}

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "ensure-db", "clear", "stats", "BROKER", "DATABASE_URL"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestTargetDatabaseURL(t *testing.T) {
	got, err := targetDatabaseURL("postgres://u:p@db:5432/workerbridge?sslmode=disable", "workerbridge_test")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	want := "postgres://u:p@db:5432/workerbridge_test?sslmode=disable"
	if got != want {
		t.Errorf("%s - got %q, want %q", mainTestPrefix, got, want)
	}

	if _, err := targetDatabaseURL("", "x"); err == nil {
		t.Errorf("%s - expected error for empty DATABASE_URL", mainTestPrefix)
	}
}

func TestWriteTotals(t *testing.T) {
	var buf bytes.Buffer
	err := writeTotals(&buf, []db.UsageTotal{
		{Service: "echo", Application: "mobile", StatusCode: 200, Requests: 4, TotalDurationMs: 100},
		{Service: "echo", Application: "-", StatusCode: 503, Requests: 1, TotalDurationMs: 7},
	})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("%s - expected header and 2 rows, got %q", mainTestPrefix, buf.String())
	}
	if !strings.HasPrefix(lines[0], "SERVICE") {
		t.Errorf("%s - header = %q", mainTestPrefix, lines[0])
	}
	if fields := strings.Fields(lines[1]); len(fields) != 5 || fields[1] != "mobile" || fields[4] != "25" {
		t.Errorf("%s - row = %q", mainTestPrefix, lines[1])
	}
}

func TestWriteTotals_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTotals(&buf, nil); err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if !strings.Contains(buf.String(), "No usage recorded") {
		t.Errorf("%s - got %q", mainTestPrefix, buf.String())
	}
}
