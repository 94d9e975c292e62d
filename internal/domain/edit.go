package domain

import "time"

// EditStatus is the value polled by clients.
type EditStatus string

const (
	EditStatusPending    EditStatus = "pending"
	EditStatusProcessing EditStatus = "processing"
	EditStatusCompleted  EditStatus = "completed"
	EditStatusFailed     EditStatus = "failed"
)

// EditStatusFor mirrors a job status onto the edit.
func EditStatusFor(s JobStatus) EditStatus {
	switch s {
	case JobStatusProcessing:
		return EditStatusProcessing
	case JobStatusDone:
		return EditStatusCompleted
	case JobStatusFailed, JobStatusCancelled:
		return EditStatusFailed
	default:
		return EditStatusPending
	}
}

// ErrorCode is the stable category exposed to users on failed edits.
type ErrorCode string

const (
	ErrorCodeNone                 ErrorCode = ""
	ErrorCodeRateLimited          ErrorCode = "rate_limited"
	ErrorCodeUnauthorized         ErrorCode = "unauthorized"
	ErrorCodeNoResult             ErrorCode = "no_result"
	ErrorCodeTransientUnavailable ErrorCode = "transient_unavailable"
	ErrorCodeValidation           ErrorCode = "validation"
	ErrorCodeCancelled            ErrorCode = "cancelled"
)

// Edit is the user-facing unit of work.
type Edit struct {
	ID        string
	UserID    string
	ImageID   string
	ImageURL  string
	ToolType  ToolID
	MaskURL   string
	Prompt    string
	Status    EditStatus
	ResultURL string
	Error     string
	ErrorCode ErrorCode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Image is an uploaded original.
type Image struct {
	ID         string
	UserID     string
	URL        string
	StorageKey string
	MIME       string
	Width      int
	Height     int
	CreatedAt  time.Time
}

// Message is the stable English text shown to end users for a failure
// category. Localized renderings key off this string.
func (c ErrorCode) Message() string {
	switch c {
	case ErrorCodeRateLimited:
		return "The service is busy right now. Please try again in a few minutes."
	case ErrorCodeUnauthorized:
		return "The processing service is misconfigured. Our team has been notified."
	case ErrorCodeNoResult:
		return "The processing service returned no result. Please try again."
	case ErrorCodeValidation:
		return "The request is missing required input for this tool."
	case ErrorCodeCancelled:
		return "Processing was cancelled."
	case ErrorCodeNone:
		return ""
	default:
		return "Processing is temporarily unavailable. Please try again later."
	}
}
