package engine

import (
	"errors"
	"testing"

	"tradeline/internal/config"
	"tradeline/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to domain.ProjectStatus }{
		{domain.StatusOpen, domain.StatusAssigned},
		{domain.StatusAssigned, domain.StatusInProgress},
		{domain.StatusInProgress, domain.StatusRevision},
		{domain.StatusRevision, domain.StatusInProgress},
		{domain.StatusRevision, domain.StatusSubmitted},
		{domain.StatusSubmitted, domain.StatusCompleted},
		{domain.StatusInProgress, domain.StatusCompleted},
		{domain.StatusCompleted, domain.StatusPaid},
		{domain.StatusPaid, domain.StatusArchived},
		{domain.StatusSubmitted, domain.StatusCancelled},
	}
	for _, c := range legal {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected %s to be legal", edgeName(c.from, c.to))
		}
	}
	illegal := []struct{ from, to domain.ProjectStatus }{
		{domain.StatusOpen, domain.StatusInProgress},
		{domain.StatusAssigned, domain.StatusCompleted},
		{domain.StatusRevision, domain.StatusCompleted},
		{domain.StatusCompleted, domain.StatusCancelled},
		{domain.StatusPaid, domain.StatusCancelled},
		{domain.StatusCancelled, domain.StatusOpen},
		{domain.StatusArchived, domain.StatusCancelled},
	}
	for _, c := range illegal {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s to be illegal", edgeName(c.from, c.to))
		}
	}
}

func TestDerivedTransition(t *testing.T) {
	cfg := config.Default()
	activity, _ := cfg.UpdateType("check_in")
	note, _ := cfg.UpdateType("progress_note")
	revisit, _ := cfg.UpdateType("revisit_required")
	photo, _ := cfg.UpdateType("photo")

	cases := []struct {
		name    string
		status  domain.ProjectStatus
		spec    config.UpdateTypeSpec
		message string
		want    domain.ProjectStatus
	}{
		{"activity starts work", domain.StatusAssigned, activity, "", domain.StatusInProgress},
		{"keyword ignored before work starts", domain.StatusAssigned, photo, "completed", ""},
		{"keyword submits", domain.StatusInProgress, note, "Completed!", domain.StatusSubmitted},
		{"revision signal", domain.StatusInProgress, revisit, "redo", domain.StatusRevision},
		{"activity resumes revision", domain.StatusRevision, activity, "", domain.StatusInProgress},
		{"keyword beats resume", domain.StatusRevision, activity, "completed", domain.StatusSubmitted},
		{"keyword beats revision", domain.StatusInProgress, revisit, "completed", domain.StatusSubmitted},
		{"activity in progress is quiet", domain.StatusInProgress, activity, "", ""},
		{"submitted ignores events", domain.StatusSubmitted, note, "completed", ""},
	}
	for _, tc := range cases {
		got, _, ok := derivedTransition(cfg, tc.status, tc.spec, tc.message)
		if ok != (tc.want != "") || got != tc.want {
			t.Errorf("%s: got %q (ok=%v), want %q", tc.name, got, ok, tc.want)
		}
	}
}

func TestCustomCompletionKeywords(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.CompletionKeywords = []string{"Ready For Review"}
	note, _ := cfg.UpdateType("progress_note")
	if _, _, ok := derivedTransition(cfg, domain.StatusInProgress, note, "completed"); ok {
		t.Fatal("default keyword should no longer match")
	}
	if got, _, _ := derivedTransition(cfg, domain.StatusInProgress, note, "now ready for review"); got != domain.StatusSubmitted {
		t.Fatalf("got %q", got)
	}
}

func TestErrorMatchesKind(t *testing.T) {
	err := error(&Error{Kind: ErrProjectNotOpen, Op: "submit_application", Entity: "project", ID: "p1", Status: "assigned"})
	if !errors.Is(err, ErrProjectNotOpen) {
		t.Fatal("expected errors.Is to match kind")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("unexpected kind match")
	}
	want := "submit_application: project_not_open (project p1 is assigned)"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
