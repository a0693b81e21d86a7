// Package jobs holds the indexing job queue and the worker runner that
// drains it. Jobs live in redis: a list for dispatch, a hash per job for
// status, and a per-repository binding that keeps duplicate requests from
// spawning duplicate work.
package jobs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/fetch"
)

// State is the lifecycle position of an indexing job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether a job in this state will never change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one indexing request and its current status.
type Job struct {
	ID         string    `json:"jobId"`
	RepoID     string    `json:"repoId"`
	GithubURL  string    `json:"githubUrl"`
	State      State     `json:"state"`
	Progress   int       `json:"progress"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue hands indexing jobs from the API to the workers.
type Queue interface {
	Enqueue(ctx context.Context, githubURL string) (string, error)
	Lease(ctx context.Context) (Job, bool, error)
	SetProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id, result string) error
	Fail(ctx context.Context, id, errMsg string) error
	StatusOf(ctx context.Context, id string) (Job, error)
}

const (
	queueKey      = "rag:jobs:queue"
	jobKeyPrefix  = "rag:job:"
	repoKeyPrefix = "rag:repo_job:"

	// leaseBlock bounds one BRPOP wait so workers notice shutdown.
	leaseBlock = 2 * time.Second
	// doneTTL keeps terminal jobs queryable for two days.
	doneTTL = 48 * time.Hour
)

func jobKey(id string) string      { return jobKeyPrefix + id }
func repoKey(repoID string) string { return repoKeyPrefix + repoID }

// RedisQueue is the production Queue.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue connects to redisURL, e.g. redis://localhost:6379/0.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadInput, err, "parse redis url")
	}
	return &RedisQueue{rdb: redis.NewClient(opt)}, nil
}

func (q *RedisQueue) Close() error { return q.rdb.Close() }

// Ping verifies connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue registers an indexing job for the repository at githubURL.
// While a prior job for the same repository is waiting or active, its id
// is returned instead of creating a duplicate.
func (q *RedisQueue) Enqueue(ctx context.Context, githubURL string) (string, error) {
	owner, name, err := fetch.ParseRepoURL(githubURL)
	if err != nil {
		return "", err
	}
	repoID := fetch.RepoID(owner, name)

	existing, err := q.rdb.Get(ctx, repoKey(repoID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, err, "redis read repo binding")
	}
	if existing != "" {
		if job, statusErr := q.StatusOf(ctx, existing); statusErr == nil && !job.State.Terminal() {
			log.Debug().Str("repo_id", repoID).Str("job_id", existing).Msg("reusing live job")
			return existing, nil
		}
	}

	id := uuid.NewString()
	fields := map[string]any{
		"state":       string(StateWaiting),
		"progress":    0,
		"repo_id":     repoID,
		"github_url":  githubURL,
		"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), fields)
	pipe.Set(ctx, repoKey(repoID), id, 0)
	pipe.LPush(ctx, queueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, err, "redis enqueue")
	}

	log.Info().Str("job_id", id).Str("repo_id", repoID).Msg("job enqueued")
	return id, nil
}

// Lease blocks up to leaseBlock for the next job and marks it active.
// ok is false when the queue stayed empty; pollers loop on that.
func (q *RedisQueue) Lease(ctx context.Context) (Job, bool, error) {
	vals, err := q.rdb.BRPop(ctx, leaseBlock, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, false, nil
		}
		if ctx.Err() != nil {
			return Job{}, false, apperr.Wrap(apperr.Cancelled, ctx.Err(), "lease aborted")
		}
		return Job{}, false, apperr.Wrap(apperr.UpstreamUnavailable, err, "redis brpop")
	}
	// BRPOP returns [key, value].
	id := vals[1]

	if err := q.rdb.HSet(ctx, jobKey(id), "state", string(StateActive)).Err(); err != nil {
		return Job{}, false, apperr.Wrap(apperr.UpstreamUnavailable, err, "redis mark active")
	}
	job, err := q.StatusOf(ctx, id)
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// SetProgress records a 0..100 position for a running job.
func (q *RedisQueue) SetProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	err := q.rdb.HSet(ctx, jobKey(id), "progress", progress).Err()
	return apperr.Wrap(apperr.UpstreamUnavailable, err, "redis set progress")
}

// Complete marks id done. result names the write strategy that landed.
func (q *RedisQueue) Complete(ctx context.Context, id, result string) error {
	return q.finish(ctx, id, map[string]any{
		"state":    string(StateCompleted),
		"progress": 100,
		"result":   result,
	})
}

// Fail marks id failed and clears the repo binding so the next enqueue
// starts a fresh attempt.
func (q *RedisQueue) Fail(ctx context.Context, id, errMsg string) error {
	return q.finish(ctx, id, map[string]any{
		"state": string(StateFailed),
		"error": errMsg,
	})
}

func (q *RedisQueue) finish(ctx context.Context, id string, fields map[string]any) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), fields)
	pipe.Expire(ctx, jobKey(id), doneTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "redis finish job")
	}

	repoID, err := q.rdb.HGet(ctx, jobKey(id), "repo_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "redis read job repo")
	}
	// Clear the binding only while it still points at this job; a fresh
	// enqueue may have re-bound the repository already.
	if current, err := q.rdb.Get(ctx, repoKey(repoID)).Result(); err == nil && current == id {
		if err := q.rdb.Del(ctx, repoKey(repoID)).Err(); err != nil {
			return apperr.Wrap(apperr.UpstreamUnavailable, err, "redis clear repo binding")
		}
	}
	return nil
}

// StatusOf returns the job record for id.
func (q *RedisQueue) StatusOf(ctx context.Context, id string) (Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return Job{}, apperr.Wrap(apperr.UpstreamUnavailable, err, "redis read job")
	}
	if len(fields) == 0 {
		return Job{}, apperr.New(apperr.NotFound, "job %s not found", id)
	}
	return jobFromFields(id, fields), nil
}

func jobFromFields(id string, fields map[string]string) Job {
	job := Job{
		ID:        id,
		RepoID:    fields["repo_id"],
		GithubURL: fields["github_url"],
		State:     State(fields["state"]),
		Result:    fields["result"],
		Error:     fields["error"],
	}
	if n, err := strconv.Atoi(fields["progress"]); err == nil {
		job.Progress = n
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		job.EnqueuedAt = t
	}
	return job
}
