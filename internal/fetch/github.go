// Package fetch turns a repository reference into a consistent snapshot of
// its files. The GitHub path resolves the default branch head and walks the
// blob tree at that commit; the local path walks a directory on disk. Both
// apply the filter's cheap prechecks before touching file content.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/filter"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

const (
	// blobConcurrency bounds parallel blob downloads per fetch.
	blobConcurrency = 8
	// apiMaxRetries is the retry budget per API call, on top of the
	// first attempt.
	apiMaxRetries = 3
)

// FileSet is one consistent snapshot of a repository. Every file comes from
// the tree at CommitHash, never from a moving branch ref, so a push during
// the fetch cannot tear the snapshot. Dropped counts files whose content
// could not be read; prechecked skips are not failures and are not counted.
type FileSet struct {
	Owner         string
	Name          string
	RepoID        string
	DefaultBranch string
	CommitHash    string
	Files         []models.FileRecord
	Dropped       int
}

// gitAPI is the slice of the GitHub API the fetcher touches. The adapter
// below binds it to *github.Client; tests swap in func-field mocks.
type gitAPI interface {
	GetRepo(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error)
	GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error)
	GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, *github.Response, error)
	GetBlobRaw(ctx context.Context, owner, repo, sha string) ([]byte, *github.Response, error)
}

type githubAPI struct {
	c *github.Client
}

func (g githubAPI) GetRepo(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	return g.c.Repositories.Get(ctx, owner, repo)
}

func (g githubAPI) GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error) {
	return g.c.Git.GetRef(ctx, owner, repo, ref)
}

func (g githubAPI) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, *github.Response, error) {
	return g.c.Git.GetTree(ctx, owner, repo, sha, recursive)
}

func (g githubAPI) GetBlobRaw(ctx context.Context, owner, repo, sha string) ([]byte, *github.Response, error) {
	return g.c.Git.GetBlobRaw(ctx, owner, repo, sha)
}

// Client fetches repository snapshots from the GitHub API.
type Client struct {
	api             gitAPI
	pre             *filter.Filter
	initialInterval time.Duration
}

// NewClient builds a GitHub fetcher. A non-empty token authenticates
// requests, which lifts the anonymous rate limit and grants access to
// private repositories the token can see.
func NewClient(token string) *Client {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Client{
		api:             githubAPI{c: github.NewClient(httpClient)},
		pre:             filter.New(0),
		initialInterval: 500 * time.Millisecond,
	}
}

// FetchRepo resolves url to the head commit of its default branch and
// downloads the blob tree at that commit.
func (c *Client) FetchRepo(ctx context.Context, url string) (*FileSet, error) {
	owner, name, err := ParseRepoURL(url)
	if err != nil {
		return nil, err
	}
	repoID := RepoID(owner, name)
	start := time.Now()

	var repo *github.Repository
	err = c.withRetry(ctx, "get repository", func() error {
		var apiErr error
		repo, _, apiErr = c.api.GetRepo(ctx, owner, name)
		return classifyGitHubErr(apiErr, repoID)
	})
	if err != nil {
		return nil, err
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	var ref *github.Reference
	err = c.withRetry(ctx, "resolve branch head", func() error {
		var apiErr error
		ref, _, apiErr = c.api.GetRef(ctx, owner, name, "heads/"+branch)
		return classifyGitHubErr(apiErr, repoID)
	})
	if err != nil {
		return nil, err
	}
	commit := ref.GetObject().GetSHA()
	if commit == "" {
		return nil, apperr.New(apperr.UpstreamUnavailable, "branch %s of %s resolved to no commit", branch, repoID)
	}

	// Tree listing is keyed by the commit hash, not the branch name.
	var tree *github.Tree
	err = c.withRetry(ctx, "list tree", func() error {
		var apiErr error
		tree, _, apiErr = c.api.GetTree(ctx, owner, name, commit, true)
		return classifyGitHubErr(apiErr, repoID)
	})
	if err != nil {
		return nil, err
	}

	blobs := make([]*github.TreeEntry, 0, len(tree.Entries))
	skipped := 0
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		if reason, skip := c.pre.Precheck(entry.GetPath(), int64(entry.GetSize())); skip {
			log.Debug().Str("path", entry.GetPath()).Str("reason", string(reason)).Msg("skipping blob download")
			skipped++
			continue
		}
		blobs = append(blobs, entry)
	}

	files := make([]models.FileRecord, len(blobs))
	var mu sync.Mutex
	dropped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobConcurrency)
	for i, entry := range blobs {
		i, entry := i, entry
		g.Go(func() error {
			var content []byte
			blobErr := c.withRetry(gctx, "download blob", func() error {
				var apiErr error
				content, _, apiErr = c.api.GetBlobRaw(gctx, owner, name, entry.GetSHA())
				return classifyGitHubErr(apiErr, repoID)
			})
			if blobErr != nil {
				switch apperr.KindOf(blobErr) {
				case apperr.Cancelled:
					return blobErr
				case apperr.RateLimited:
					// Quota exhaustion fails every blob still queued;
					// dropping them all would publish a hollow snapshot.
					return blobErr
				}
				log.Warn().Err(blobErr).
					Str("repo_id", repoID).
					Str("path", entry.GetPath()).
					Msg("dropping file, blob fetch failed")
				mu.Lock()
				dropped++
				mu.Unlock()
				return nil
			}
			files[i] = models.FileRecord{
				Path:    entry.GetPath(),
				Size:    int64(entry.GetSize()),
				Content: content,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		if f.Path != "" {
			out = append(out, f)
		}
	}

	log.Info().
		Str("repo_id", repoID).
		Str("branch", branch).
		Str("commit", commit).
		Int("files", len(out)).
		Int("skipped", skipped).
		Int("dropped", dropped).
		Dur("duration", time.Since(start)).
		Msg("fetched repository snapshot")

	return &FileSet{
		Owner:         owner,
		Name:          name,
		RepoID:        repoID,
		DefaultBranch: branch,
		CommitHash:    commit,
		Files:         out,
		Dropped:       dropped,
	}, nil
}

// withRetry runs call with exponential backoff, retrying only failures a
// later attempt could cure.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		if apperr.IsRetryable(err) {
			log.Warn().Err(err).Int("attempt", attempt).Str("op", op).
				Msg("github call failed, will retry")
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, apiMaxRetries), ctx)
	return backoff.Retry(operation, policy)
}

// classifyGitHubErr tags a go-github error with its kind. Rate limits keep
// the upstream reset hint so callers can surface Retry-After.
func classifyGitHubErr(err error, repoID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Cancelled, err, "github call aborted")
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperr.RateLimitedAfter(time.Until(rateErr.Rate.Reset.Time), err, "github rate limit exhausted")
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var wait time.Duration
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return apperr.RateLimitedAfter(wait, err, "github secondary rate limit")
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return apperr.Wrap(apperr.NotFound, err, fmt.Sprintf("repository %s not found", repoID))
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Wrap(apperr.Unauthorized, err, fmt.Sprintf("github rejected credentials for %s", repoID))
		}
	}
	return apperr.Wrap(apperr.UpstreamUnavailable, err, "github api")
}
