package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

func TestStateTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateWaiting, false},
		{StateActive, false},
		{StateCompleted, true},
		{StateFailed, true},
		{State("unknown"), false},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestJobFromFields(t *testing.T) {
	enqueued := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	fields := map[string]string{
		"repo_id":     "acme/widgets",
		"github_url":  "https://github.com/acme/widgets",
		"state":       "active",
		"progress":    "45",
		"result":      "",
		"error":       "",
		"enqueued_at": enqueued.Format(time.RFC3339Nano),
	}

	job := jobFromFields("job-1", fields)
	if job.ID != "job-1" {
		t.Errorf("ID = %q, want job-1", job.ID)
	}
	if job.RepoID != "acme/widgets" {
		t.Errorf("RepoID = %q, want acme/widgets", job.RepoID)
	}
	if job.State != StateActive {
		t.Errorf("State = %q, want %q", job.State, StateActive)
	}
	if job.Progress != 45 {
		t.Errorf("Progress = %d, want 45", job.Progress)
	}
	if !job.EnqueuedAt.Equal(enqueued) {
		t.Errorf("EnqueuedAt = %v, want %v", job.EnqueuedAt, enqueued)
	}
}

func TestJobFromFieldsTolerant(t *testing.T) {
	job := jobFromFields("job-2", map[string]string{
		"state":       "failed",
		"error":       "fetch failed",
		"progress":    "not-a-number",
		"enqueued_at": "garbage",
	})
	if job.State != StateFailed {
		t.Errorf("State = %q, want %q", job.State, StateFailed)
	}
	if job.Error != "fetch failed" {
		t.Errorf("Error = %q, want fetch failed", job.Error)
	}
	if job.Progress != 0 {
		t.Errorf("Progress = %d, want 0 for unparsable field", job.Progress)
	}
	if !job.EnqueuedAt.IsZero() {
		t.Errorf("EnqueuedAt = %v, want zero for unparsable field", job.EnqueuedAt)
	}
}

// Enqueue validates the URL before touching redis, so a queue pointed at
// an unreachable server still rejects bad input cleanly.
func TestEnqueueRejectsBadURL(t *testing.T) {
	q, err := NewRedisQueue("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	defer q.Close()

	_, err = q.Enqueue(context.Background(), "https://gitlab.com/acme/widgets")
	if apperr.KindOf(err) != apperr.BadInput {
		t.Errorf("Enqueue kind = %v, want BadInput", apperr.KindOf(err))
	}
}

func TestNewRedisQueueBadURL(t *testing.T) {
	_, err := NewRedisQueue("not a redis url")
	if apperr.KindOf(err) != apperr.BadInput {
		t.Errorf("NewRedisQueue kind = %v, want BadInput", apperr.KindOf(err))
	}
}
