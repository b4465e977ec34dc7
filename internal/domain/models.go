package domain

import (
	"fmt"
	"time"
)

// Entity types known to the sequence allocator.
const (
	EntityPatient      = "patient"
	EntityDiagnostic   = "diagnostic"
	EntityVeterinarian = "veterinarian"
	EntityTechnician   = "technician"
	EntityAdmin        = "admin"
	EntityToken        = "token"
)

// Status is the lifecycle state of a diagnostic record.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors lists the states a record may be in immediately before
// moving to s. QUEUED has none: records are created in it and never re-enter.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusQueued}
	case StatusCompleted:
		return []Status{StatusProcessing}
	case StatusFailed:
		return []Status{StatusQueued, StatusProcessing}
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// PDFMetadata describes the stored original upload.
type PDFMetadata struct {
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size"`
	ContentType      string    `json:"content_type"`
	UploadedAt       time.Time `json:"upload_date"`
}

// ProcessingInfo is the diagnostic metadata written by the background run.
type ProcessingInfo struct {
	ModelVersion     string     `json:"model_version,omitempty"`
	ProcessingTimeMs int64      `json:"processing_time_ms,omitempty"`
	PageCount        int        `json:"page_count,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"processed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
}

// DiagnosticRecord tracks one submitted document and its analysis outcome.
type DiagnosticRecord struct {
	ID             string         `json:"diagnostic_id"`
	OwnerReference string         `json:"patient_id"`
	SequenceNumber int            `json:"sequence_number"`
	Status         Status         `json:"status"`
	BlobReference  string         `json:"blob_reference"`
	PDF            PDFMetadata    `json:"pdf_metadata"`
	Result         map[string]any `json:"ai_diagnostic"`
	ProcessingInfo ProcessingInfo `json:"processing_info"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StatusUpdate names the fields written alongside a status change. Nil
// fields are left untouched in the store.
type StatusUpdate struct {
	Result         map[string]any
	ProcessingInfo *ProcessingInfo
}

// Validate enforces the record invariants for a transition into next:
// result is set only for COMPLETED and an error detail only for FAILED.
func (u StatusUpdate) Validate(next Status) error {
	hasResult := len(u.Result) > 0
	hasError := u.ProcessingInfo != nil && u.ProcessingInfo.Error != ""

	switch next {
	case StatusProcessing:
		if hasResult || hasError {
			return ValidationError("PROCESSING update must not carry a result or error", nil)
		}
	case StatusCompleted:
		if !hasResult {
			return ValidationError("COMPLETED update requires a non-empty result", nil)
		}
		if hasError {
			return ValidationError("COMPLETED update must not carry an error", nil)
		}
	case StatusFailed:
		if !hasError {
			return ValidationError("FAILED update requires an error detail", nil)
		}
		if hasResult {
			return ValidationError("FAILED update must not carry a result", nil)
		}
	default:
		return NewError(ErrorTypeValidation, fmt.Sprintf("cannot move a record to %s", next), ErrInvalidTransition)
	}
	return nil
}

// SequenceCounter is the persisted state of one allocator counter.
type SequenceCounter struct {
	EntityType   string `json:"entity_type"`
	CurrentValue int64  `json:"current_value"`
	Prefix       string `json:"prefix"`
}

// PageImage is one rasterised page. PageNumber is 1-based and reflects the
// page's position in the source document.
type PageImage struct {
	PageNumber  int
	Name        string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Upload is a document handed to the orchestrator by a caller.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
