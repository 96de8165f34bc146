package domain

import (
	"strings"
	"testing"
	"time"
)

func TestApplyToggles(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	e := Event{
		SubsOpen:    false,
		SubsToggle:  &past,
		SalesOpen:   true,
		SalesToggle: &future,
	}

	if !e.ApplyToggles(now) {
		t.Fatal("expected a change to be reported")
	}
	if !e.SubsOpen || e.SubsToggle != nil {
		t.Fatalf("expected subs toggle applied and cleared, got open=%t toggle=%v", e.SubsOpen, e.SubsToggle)
	}
	if !e.SalesOpen || e.SalesToggle == nil {
		t.Fatal("future toggle must stay pending")
	}

	if e.ApplyToggles(now) {
		t.Fatal("expected second application to be a no-op")
	}
}

func TestAppendNote_IsAppendOnly(t *testing.T) {
	when := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	tx := Transaction{}

	tx.AppendNote(when, "checkout created")
	tx.AppendNote(when.Add(time.Hour), "processor settled payment")

	lines := strings.Split(tx.Notes, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 note lines, got %d: %q", len(lines), tx.Notes)
	}
	if !strings.HasSuffix(lines[0], "checkout created") || !strings.HasPrefix(lines[0], "[2026-09-01T10:00:00Z]") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "processor settled payment") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}
