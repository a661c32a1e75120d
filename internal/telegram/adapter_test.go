package telegram

import (
	"fmt"
	"strings"
	"testing"

	"github.com/user/expmirror/internal/jobs"
)

func TestSplitMessage(t *testing.T) {
	short := "Job nightly ok"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessageBreaksAtNewline(t *testing.T) {
	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 60)
	parts := splitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if !strings.HasSuffix(parts[0], "\n") {
		t.Error("expected first part to end at a newline")
	}
	if strings.Join(parts, "") != text {
		t.Error("parts do not reassemble the message")
	}
}

func TestTargetRoundTrip(t *testing.T) {
	for _, id := range []int64{12345, -1001234567890} {
		got, err := ParseTarget(Target(id))
		if err != nil {
			t.Fatal(err)
		}
		if got != id {
			t.Errorf("expected %d, got %d", id, got)
		}
	}
}

func TestParseTargetErrors(t *testing.T) {
	for _, target := range []string{"slack:general", "telegram:", "telegram:abc"} {
		if _, err := ParseTarget(target); err == nil {
			t.Errorf("expected error for %q", target)
		}
	}
}

type fakeJobs map[string]*jobs.Job

func (f fakeJobs) List() ([]*jobs.Job, error) {
	var out []*jobs.Job
	for _, name := range []string{"nightly", "paused"} {
		if j, ok := f[name]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f fakeJobs) Get(name string) (*jobs.Job, error) {
	if j, ok := f[name]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

func TestHandleCommand(t *testing.T) {
	store := fakeJobs{
		"nightly": {Name: "nightly", Kind: jobs.KindDownload, Enabled: true, LastRun: &jobs.RunRecord{Status: jobs.StatusOK}},
		"paused":  {Name: "paused", Kind: jobs.KindCopy},
	}
	var triggered, notify string
	a := &Adapter{jobs: store, trigger: func(job *jobs.Job, trigger, target string) (string, error) {
		triggered = job.Name
		notify = target
		return "run-1", nil
	}}

	if got := a.handleCommand(42, "start", ""); !strings.Contains(got, "telegram:42") {
		t.Errorf("start reply should name the target, got %q", got)
	}

	got := a.handleCommand(42, "jobs", "")
	if !strings.Contains(got, "nightly (download, enabled) last: ok") || !strings.Contains(got, "paused (copy, disabled)") {
		t.Errorf("unexpected jobs reply %q", got)
	}

	if got := a.handleCommand(42, "run", " nightly "); got != "Started nightly (run run-1)." {
		t.Errorf("unexpected run reply %q", got)
	}
	if triggered != "nightly" || notify != "telegram:42" {
		t.Errorf("expected trigger of nightly to telegram:42, got %q to %q", triggered, notify)
	}

	tests := map[string]string{
		"":       "Usage",
		"paused": "disabled",
		"nope":   "Unknown job",
	}
	for args, want := range tests {
		if got := a.handleCommand(42, "run", args); !strings.Contains(got, want) {
			t.Errorf("run %q: expected %q in %q", args, want, got)
		}
	}

	if got := a.handleCommand(42, "help", ""); !strings.HasPrefix(got, "Unknown command") {
		t.Errorf("unexpected reply %q", got)
	}
}
