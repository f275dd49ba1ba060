package store

import "time"

type Project struct {
	ID                string
	CurrentRevisionID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Revision struct {
	ID         string
	ProjectID  string
	Content    string
	Digest     string
	CommitHash string
	CreatedAt  time.Time
}

type ProposalRecord struct {
	ID           string
	ProjectID    string
	Instructions string
	Generator    string
	Proposed     string
	CreatedAt    time.Time
}

type MergeRecord struct {
	ID         string
	ProjectID  string
	RevisionID string
	Accepted   int
	Rejected   int
	Total      int
	CreatedAt  time.Time
}

const (
	ExportQueued    = "queued"
	ExportRunning   = "running"
	ExportCompleted = "completed"
	ExportFailed    = "failed"
)

type ExportRecord struct {
	ID          string
	ProjectID   string
	RevisionID  string
	Format      string
	Status      string
	ArtifactKey string
	ContentType string
	SizeBytes   int64
	Attempts    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

type SearchHit struct {
	ProjectID  string
	RevisionID string
	Snippet    string
	CreatedAt  time.Time
}
