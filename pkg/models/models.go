package models

import "time"

// IndexStatus tracks the lifecycle of a repository index record.
type IndexStatus string

const (
	StatusPending  IndexStatus = "pending"
	StatusIndexing IndexStatus = "indexing"
	StatusReady    IndexStatus = "ready"
	StatusFailed   IndexStatus = "failed"
)

// ChunkStrategy names how a file was split.
type ChunkStrategy string

const (
	StrategyAST           ChunkStrategy = "ast"
	StrategySlidingWindow ChunkStrategy = "sliding-window"
)

// WriteStrategy names what the vector store writer did with an ingestion.
type WriteStrategy string

const (
	WriteSkipped     WriteStrategy = "skipped"
	WriteUpsert      WriteStrategy = "upsert"
	WriteFullReindex WriteStrategy = "full-reindex"
)

// JobState is the externally visible state of an ingestion job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// RejectReason enumerates why the filter refused a file.
type RejectReason string

const (
	RejectIgnoredPath RejectReason = "ignored-path"
	RejectExtension   RejectReason = "extension-not-allowed"
	RejectTooLarge    RejectReason = "too-large"
	RejectBinary      RejectReason = "binary"
	RejectEmpty       RejectReason = "empty"
)

// FileRecord is one file as fetched, before filtering.
type FileRecord struct {
	Path    string
	Size    int64
	Content []byte
}

type Rejection struct {
	Path   string       `json:"path"`
	Reason RejectReason `json:"reason"`
}

// Chunk is the unit of retrieval: a contiguous, citable span of one file.
type Chunk struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repoId"`
	FilePath   string    `json:"filePath"`
	Language   string    `json:"language,omitempty"`
	SymbolName string    `json:"symbolName,omitempty"`
	StartLine  int       `json:"startLine"`
	EndLine    int       `json:"endLine"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunkIndex"`
	EmbeddedAt time.Time `json:"embeddedAt,omitzero"`
}

// EmbeddedChunk pairs a chunk with its vector; transient, never served.
type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"-"`
}

// RepoIndex is the per-repository index record.
type RepoIndex struct {
	RepoID         string      `json:"repoId"`
	Status         IndexStatus `json:"status"`
	CommitHash     string      `json:"commitHash,omitempty"`
	DefaultBranch  string      `json:"defaultBranch,omitempty"`
	EmbeddingModel string      `json:"embeddingModel,omitempty"`
	SchemaVersion  int         `json:"schemaVersion"`
	ChunkCount     int         `json:"chunkCount"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// RetrievedChunk carries the retrieval scores next to the chunk.
// Score = VectorScore + ProximityBoost.
type RetrievedChunk struct {
	Chunk
	VectorScore    float64 `json:"vectorScore"`
	ProximityBoost float64 `json:"proximityBoost"`
	Score          float64 `json:"score"`
}

// Citation maps a short key like "[1]" to the span it refers to.
// Keys are unique within one answer.
type Citation struct {
	Key        string `json:"key"`
	FilePath   string `json:"filePath"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	SymbolName string `json:"symbolName,omitempty"`
}

// IndexResult summarizes a completed ingestion job.
type IndexResult struct {
	RepoID        string        `json:"repoId"`
	CommitHash    string        `json:"commitHash"`
	Strategy      WriteStrategy `json:"strategy"`
	FilesAccepted int           `json:"filesAccepted"`
	FilesRejected int           `json:"filesRejected"`
	ChunksWritten int           `json:"chunksWritten"`
	DurationMs    int64         `json:"durationMs"`
}
