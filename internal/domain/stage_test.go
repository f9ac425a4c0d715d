package domain

import "testing"

func TestNextStage(t *testing.T) {
	cases := []struct {
		stage Stage
		next  Stage
		ok    bool
	}{
		{StageScrape, StageAnalyze, true},
		{StageAnalyze, StageGenerate, true},
		{StageGenerate, StageList, true},
		{StageList, "", false},
		{Stage("bogus"), "", false},
	}
	for _, c := range cases {
		next, ok := NextStage(c.stage)
		if ok != c.ok || next != c.next {
			t.Errorf("NextStage(%s) = %q, %v; want %q, %v", c.stage, next, ok, c.next, c.ok)
		}
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStage(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStage("publish"); err == nil {
		t.Error("ParseStage accepted unknown stage name")
	}
	if _, err := ParseStage(""); err == nil {
		t.Error("ParseStage accepted empty stage name")
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]JobStatus{
		{StatusPending, StatusRunning},
		{StatusRunning, StatusSuccess},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusRetrying},
		{StatusRunning, StatusRunning}, // redelivery
		{StatusRetrying, StatusRunning},
		{StatusRetrying, StatusFailed},
	}
	for _, tr := range legal {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s → %s to be legal", tr[0], tr[1])
		}
	}

	illegal := [][2]JobStatus{
		{StatusPending, StatusSuccess},
		{StatusPending, StatusFailed},
		{StatusPending, StatusRetrying},
		{StatusSuccess, StatusRunning},
		{StatusFailed, StatusRunning},
		{StatusSuccess, StatusFailed},
	}
	for _, tr := range illegal {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s → %s to be illegal", tr[0], tr[1])
		}
	}
}

func TestTerminal(t *testing.T) {
	if !StatusSuccess.Terminal() || !StatusFailed.Terminal() {
		t.Error("success and failed must be terminal")
	}
	for _, s := range []JobStatus{StatusPending, StatusRunning, StatusRetrying} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
