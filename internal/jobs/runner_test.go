package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/embed"
	"github.com/VanshDeo/OpenQuest/internal/fetch"
	"github.com/VanshDeo/OpenQuest/internal/store"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

const testCommit = "abc123def456"

type MockQueue struct {
	EnqueueFunc     func(ctx context.Context, githubURL string) (string, error)
	LeaseFunc       func(ctx context.Context) (Job, bool, error)
	SetProgressFunc func(ctx context.Context, id string, progress int) error
	CompleteFunc    func(ctx context.Context, id, result string) error
	FailFunc        func(ctx context.Context, id, errMsg string) error
	StatusOfFunc    func(ctx context.Context, id string) (Job, error)
}

func (m *MockQueue) Enqueue(ctx context.Context, githubURL string) (string, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, githubURL)
	}
	return "", nil
}

func (m *MockQueue) Lease(ctx context.Context) (Job, bool, error) {
	if m.LeaseFunc != nil {
		return m.LeaseFunc(ctx)
	}
	return Job{}, false, nil
}

func (m *MockQueue) SetProgress(ctx context.Context, id string, progress int) error {
	if m.SetProgressFunc != nil {
		return m.SetProgressFunc(ctx, id, progress)
	}
	return nil
}

func (m *MockQueue) Complete(ctx context.Context, id, result string) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, id, result)
	}
	return nil
}

func (m *MockQueue) Fail(ctx context.Context, id, errMsg string) error {
	if m.FailFunc != nil {
		return m.FailFunc(ctx, id, errMsg)
	}
	return nil
}

func (m *MockQueue) StatusOf(ctx context.Context, id string) (Job, error) {
	if m.StatusOfFunc != nil {
		return m.StatusOfFunc(ctx, id)
	}
	return Job{}, nil
}

type MockFetcher struct {
	FetchRepoFunc func(ctx context.Context, url string) (*fetch.FileSet, error)
}

func (m *MockFetcher) FetchRepo(ctx context.Context, url string) (*fetch.FileSet, error) {
	if m.FetchRepoFunc != nil {
		return m.FetchRepoFunc(ctx, url)
	}
	return &fetch.FileSet{
		Owner:         "acme",
		Name:          "widgets",
		RepoID:        "acme/widgets",
		DefaultBranch: "main",
		CommitHash:    testCommit,
		Files: []models.FileRecord{
			{Path: "main.go", Content: []byte("package main\n\nfunc main() {\n\tprintln(\"ok\")\n}\n")},
		},
	}, nil
}

type MockChunkStore struct {
	MigrateFunc      func(ctx context.Context, dim int) error
	EnsureRepoFunc   func(ctx context.Context, repoID string) error
	MarkIndexingFunc func(ctx context.Context, repoID string) error
	MarkFailedFunc   func(ctx context.Context, repoID string) error
	GetRepoIndexFunc func(ctx context.Context, repoID string) (models.RepoIndex, bool, error)
	ListReposFunc    func(ctx context.Context) ([]models.RepoIndex, error)
	WriteFunc        func(ctx context.Context, embedded []models.EmbeddedChunk, meta store.WriteMeta) (models.WriteStrategy, error)
	SearchFunc       func(ctx context.Context, queryVec []float32, opt store.SearchOpts) ([]models.RetrievedChunk, error)
}

func (m *MockChunkStore) Migrate(ctx context.Context, dim int) error {
	if m.MigrateFunc != nil {
		return m.MigrateFunc(ctx, dim)
	}
	return nil
}

func (m *MockChunkStore) EnsureRepo(ctx context.Context, repoID string) error {
	if m.EnsureRepoFunc != nil {
		return m.EnsureRepoFunc(ctx, repoID)
	}
	return nil
}

func (m *MockChunkStore) MarkIndexing(ctx context.Context, repoID string) error {
	if m.MarkIndexingFunc != nil {
		return m.MarkIndexingFunc(ctx, repoID)
	}
	return nil
}

func (m *MockChunkStore) MarkFailed(ctx context.Context, repoID string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, repoID)
	}
	return nil
}

func (m *MockChunkStore) GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
	if m.GetRepoIndexFunc != nil {
		return m.GetRepoIndexFunc(ctx, repoID)
	}
	return models.RepoIndex{}, false, nil
}

func (m *MockChunkStore) ListRepos(ctx context.Context) ([]models.RepoIndex, error) {
	if m.ListReposFunc != nil {
		return m.ListReposFunc(ctx)
	}
	return nil, nil
}

func (m *MockChunkStore) Write(ctx context.Context, embedded []models.EmbeddedChunk, meta store.WriteMeta) (models.WriteStrategy, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, embedded, meta)
	}
	return models.WriteFullReindex, nil
}

func (m *MockChunkStore) Search(ctx context.Context, queryVec []float32, opt store.SearchOpts) ([]models.RetrievedChunk, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, queryVec, opt)
	}
	return nil, nil
}

type MockAIClient struct {
	EmbedBatchFunc   func(ctx context.Context, texts []string, task ai.TaskType) ([][]float32, error)
	StreamAnswerFunc func(ctx context.Context, system, user string, onToken func(string)) (string, error)
}

func (m *MockAIClient) EmbedBatch(ctx context.Context, texts []string, task ai.TaskType) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts, task)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *MockAIClient) StreamAnswer(ctx context.Context, system, user string, onToken func(string)) (string, error) {
	if m.StreamAnswerFunc != nil {
		return m.StreamAnswerFunc(ctx, system, user, onToken)
	}
	return "mock answer", nil
}

func (m *MockAIClient) EmbeddingModel() string { return "mock-embed" }

func (m *MockAIClient) AnswerModel() string { return "mock-answer" }

func (m *MockAIClient) Dim() int { return 3 }

func (m *MockAIClient) DevOnly() bool { return true }

func (m *MockAIClient) Close() error { return nil }

func testIngestor(st store.ChunkStore) *Ingestor {
	return &Ingestor{
		Store:      st,
		Client:     &MockAIClient{},
		EngineOpts: []embed.Option{embed.WithPause(0)},
	}
}

func TestIngestorIndexFileSet(t *testing.T) {
	var calls []string
	var gotMeta store.WriteMeta
	var gotEmbedded int
	st := &MockChunkStore{
		EnsureRepoFunc: func(ctx context.Context, repoID string) error {
			calls = append(calls, "ensure")
			return nil
		},
		MarkIndexingFunc: func(ctx context.Context, repoID string) error {
			calls = append(calls, "indexing")
			return nil
		},
		WriteFunc: func(ctx context.Context, embedded []models.EmbeddedChunk, meta store.WriteMeta) (models.WriteStrategy, error) {
			calls = append(calls, "write")
			gotMeta = meta
			gotEmbedded = len(embedded)
			return models.WriteUpsert, nil
		},
	}

	fs := &fetch.FileSet{
		Owner:         "acme",
		Name:          "widgets",
		RepoID:        "acme/widgets",
		DefaultBranch: "main",
		CommitHash:    testCommit,
		Files: []models.FileRecord{
			{Path: "main.go", Content: []byte("package main\n\nfunc main() {\n\tprintln(\"ok\")\n}\n")},
			{Path: "docs/logo.png", Content: []byte{0x89, 0x50, 0x4e, 0x47}},
		},
	}

	var progress []int
	res, err := testIngestor(st).IndexFileSet(context.Background(), fs, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("IndexFileSet: %v", err)
	}
	if res.Strategy != models.WriteUpsert {
		t.Errorf("Strategy = %q, want %q", res.Strategy, models.WriteUpsert)
	}
	if res.ChunksWritten == 0 || res.ChunksWritten != gotEmbedded {
		t.Errorf("ChunksWritten = %d, store saw %d embedded chunks", res.ChunksWritten, gotEmbedded)
	}
	if res.RepoID != "acme/widgets" || res.CommitHash != testCommit {
		t.Errorf("result identity = %s@%s", res.RepoID, res.CommitHash)
	}
	if res.FilesAccepted != 1 || res.FilesRejected != 1 {
		t.Errorf("files accepted/rejected = %d/%d, want 1/1", res.FilesAccepted, res.FilesRejected)
	}

	wantCalls := []string{"ensure", "indexing", "write"}
	if len(calls) != len(wantCalls) {
		t.Fatalf("store calls = %v, want %v", calls, wantCalls)
	}
	for i, want := range wantCalls {
		if calls[i] != want {
			t.Errorf("store call %d = %q, want %q", i, calls[i], want)
		}
	}

	if gotMeta.RepoID != "acme/widgets" || gotMeta.CommitHash != testCommit || gotMeta.DefaultBranch != "main" {
		t.Errorf("write meta = %+v", gotMeta)
	}
	if gotMeta.Model != "mock-embed" {
		t.Errorf("Model = %q, want mock-embed", gotMeta.Model)
	}
	if !gotMeta.DevOnly {
		t.Error("DevOnly = false, want true for the mock client")
	}

	for _, want := range []int{progressFiltered, progressChunked, progressEmbedded, progressWritten} {
		found := false
		for _, p := range progress {
			if p == want {
				found = true
			}
		}
		if !found {
			t.Errorf("progress %v missing checkpoint %d", progress, want)
		}
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
		}
	}
}

func TestRunnerExecutesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := make(chan Job, 1)
	pending <- Job{ID: "job-1", RepoID: "acme/widgets", GithubURL: "https://github.com/acme/widgets", State: StateActive}
	completed := make(chan string, 1)

	q := &MockQueue{
		LeaseFunc: func(ctx context.Context) (Job, bool, error) {
			select {
			case job := <-pending:
				return job, true, nil
			default:
				return Job{}, false, nil
			}
		},
		CompleteFunc: func(ctx context.Context, id, result string) error {
			completed <- result
			cancel()
			return nil
		},
	}

	r := NewRunner(q, &MockFetcher{}, testIngestor(&MockChunkStore{}), 1)
	finished := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(finished)
	}()

	select {
	case result := <-completed:
		if result != string(models.WriteFullReindex) {
			t.Errorf("result = %q, want %q", result, models.WriteFullReindex)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerSkipsCurrentIndex(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := make(chan Job, 1)
	pending <- Job{ID: "job-1", RepoID: "acme/widgets", GithubURL: "https://github.com/acme/widgets"}
	completed := make(chan string, 1)

	q := &MockQueue{
		LeaseFunc: func(ctx context.Context) (Job, bool, error) {
			select {
			case job := <-pending:
				return job, true, nil
			default:
				return Job{}, false, nil
			}
		},
		CompleteFunc: func(ctx context.Context, id, result string) error {
			completed <- result
			cancel()
			return nil
		},
	}

	wroteChunks := false
	st := &MockChunkStore{
		GetRepoIndexFunc: func(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
			return models.RepoIndex{
				Status:         models.StatusReady,
				CommitHash:     testCommit,
				EmbeddingModel: "mock-embed",
				SchemaVersion:  store.CurrentSchemaVersion,
			}, true, nil
		},
		WriteFunc: func(ctx context.Context, embedded []models.EmbeddedChunk, meta store.WriteMeta) (models.WriteStrategy, error) {
			wroteChunks = true
			return models.WriteUpsert, nil
		},
	}

	r := NewRunner(q, &MockFetcher{}, testIngestor(st), 1)
	finished := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(finished)
	}()

	select {
	case result := <-completed:
		if result != string(models.WriteSkipped) {
			t.Errorf("result = %q, want %q", result, models.WriteSkipped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
	<-finished
	if wroteChunks {
		t.Error("an index already holding this commit must not be rewritten")
	}
}

func TestRunnerFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := make(chan Job, 1)
	pending <- Job{ID: "job-1", RepoID: "acme/widgets", GithubURL: "https://github.com/acme/widgets"}
	failed := make(chan string, 1)

	var markedFailed string
	q := &MockQueue{
		LeaseFunc: func(ctx context.Context) (Job, bool, error) {
			select {
			case job := <-pending:
				return job, true, nil
			default:
				return Job{}, false, nil
			}
		},
		FailFunc: func(ctx context.Context, id, errMsg string) error {
			failed <- errMsg
			return nil
		},
	}
	st := &MockChunkStore{
		MarkFailedFunc: func(ctx context.Context, repoID string) error {
			markedFailed = repoID
			cancel()
			return nil
		},
	}
	fetcher := &MockFetcher{
		FetchRepoFunc: func(ctx context.Context, url string) (*fetch.FileSet, error) {
			return nil, apperr.New(apperr.NotFound, "repository acme/widgets not found")
		},
	}

	r := NewRunner(q, fetcher, testIngestor(st), 1)
	finished := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(finished)
	}()

	select {
	case msg := <-failed:
		if msg == "" {
			t.Error("failure message is empty")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed")
	}
	<-finished
	if markedFailed != "acme/widgets" {
		t.Errorf("MarkFailed repo = %q, want acme/widgets", markedFailed)
	}
}

// A cancelled job context must not prevent the failure from being
// recorded; failJob switches to its own context.
func TestRunnerFailureUsesFreshContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var failCtxErr error
	q := &MockQueue{
		FailFunc: func(ctx context.Context, id, errMsg string) error {
			failCtxErr = ctx.Err()
			return nil
		},
	}
	fetcher := &MockFetcher{
		FetchRepoFunc: func(ctx context.Context, url string) (*fetch.FileSet, error) {
			return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "fetch aborted")
		},
	}

	r := NewRunner(q, fetcher, testIngestor(&MockChunkStore{}), 1)
	r.execute(ctx, Job{ID: "job-1", RepoID: "acme/widgets"})

	if failCtxErr != nil {
		t.Errorf("Fail saw a dead context: %v", failCtxErr)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(&MockQueue{}, &MockFetcher{}, testIngestor(&MockChunkStore{}), 2)
	finished := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerEmptyRepoCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := make(chan Job, 1)
	pending <- Job{ID: "job-1", RepoID: "acme/empty", GithubURL: "https://github.com/acme/empty"}
	completed := make(chan string, 1)

	var wroteEmbedded = -1
	q := &MockQueue{
		LeaseFunc: func(ctx context.Context) (Job, bool, error) {
			select {
			case job := <-pending:
				return job, true, nil
			default:
				return Job{}, false, nil
			}
		},
		CompleteFunc: func(ctx context.Context, id, result string) error {
			completed <- result
			cancel()
			return nil
		},
	}
	st := &MockChunkStore{
		WriteFunc: func(ctx context.Context, embedded []models.EmbeddedChunk, meta store.WriteMeta) (models.WriteStrategy, error) {
			wroteEmbedded = len(embedded)
			return models.WriteFullReindex, nil
		},
	}
	fetcher := &MockFetcher{
		FetchRepoFunc: func(ctx context.Context, url string) (*fetch.FileSet, error) {
			return &fetch.FileSet{
				Owner:         "acme",
				Name:          "empty",
				RepoID:        "acme/empty",
				DefaultBranch: "main",
				CommitHash:    testCommit,
			}, nil
		},
	}

	r := NewRunner(q, fetcher, testIngestor(st), 1)
	finished := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(finished)
	}()

	select {
	case result := <-completed:
		if result != string(models.WriteFullReindex) {
			t.Errorf("result = %q, want %q", result, models.WriteFullReindex)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
	<-finished
	if wroteEmbedded != 0 {
		t.Errorf("store saw %d embedded chunks, want 0", wroteEmbedded)
	}
}
