package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusDone, JobStatusFailed, JobStatusCancelled, JobStatusQueued},
	JobStatusFailed:     {JobStatusQueued},
}

// CanTransitionTo reports whether the state machine allows s -> next.
// processing -> queued is only used by orphan recovery.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no pipeline work remains for the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

// Claimable reports whether a worker may pick the job up.
func (s JobStatus) Claimable() bool {
	return s == JobStatusPending || s == JobStatusQueued
}

// SourcesFor lists the statuses a job may be in before moving to next.
func SourcesFor(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing, JobStatusFailed} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

// Job is one tracked processing attempt.
type Job struct {
	ID               string
	UserID           string
	EditID           string
	ToolID           ToolID
	Status           JobStatus
	InputData        json.RawMessage
	OutputData       json.RawMessage
	ErrorMessage     string
	ErrorCode        ErrorCode
	ProviderID       string
	ProcessingTimeMs int64
	CreditsCharged   int
	Attempt          int
	StartedAt        *time.Time
	CompletedAt      *time.Time
	HeartbeatAt      *time.Time
	CreatedAt        time.Time
}

// JobInput is the snapshot stored in jobs.input_data at creation time.
type JobInput struct {
	ImageURL string `json:"imageUrl"`
	MaskURL  string `json:"maskUrl,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Plan     Plan   `json:"plan"`
}

// JobOutput is stored in jobs.output_data once the job is done.
type JobOutput struct {
	ResultURL string         `json:"resultUrl"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JobFilter narrows operator job listings.
type JobFilter struct {
	Status JobStatus
	Limit  int
}

// JobStat aggregates jobs per status.
type JobStat struct {
	Status              JobStatus `json:"status"`
	Count               int64     `json:"count"`
	AvgProcessingTimeMs float64   `json:"avgProcessingTimeMs"`
}

// JobCompletion carries the terminal fields written by the runner.
type JobCompletion struct {
	Status           JobStatus
	Output           *JobOutput
	ErrorMessage     string
	ErrorCode        ErrorCode
	ProviderID       string
	ProcessingTimeMs int64
}
