// Package schema defines the JSON events published about variant jobs.
package schema

// ImageAccepted is published once an upload has committed.
type ImageAccepted struct {
	ImageID    string `json:"image_id"`
	AccountID  string `json:"account_id"`
	Filename   string `json:"filename"`
	ObjectKey  string `json:"object_key"`
	CapturedAt int64  `json:"captured_at"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	HappenedAt int64  `json:"happened_at"`
}

// ProcessingStage is a state of the per-job state machine.
type ProcessingStage string

const (
	StageReceived      ProcessingStage = "received"
	StageDownloading   ProcessingStage = "downloading"
	StageUploading     ProcessingStage = "uploading_variants"
	StageUploaded      ProcessingStage = "all_uploads_ok"
	StageUploadFailed  ProcessingStage = "upload_failed"
	StageDBTransaction ProcessingStage = "db_transaction"
	StageCommitted     ProcessingStage = "committed"
	StageDBFailed      ProcessingStage = "db_failed"
	StageCleanup       ProcessingStage = "cleanup"
	StageFailed        ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

type DerivationParams struct {
	SourceWidth  int    `json:"source_width"`
	SourceHeight int    `json:"source_height"`
	TargetWidth  int    `json:"target_width"`
	TargetHeight int    `json:"target_height"`
	Algorithm    string `json:"algorithm"`
	Quality      int    `json:"quality,omitempty"`
}

type VariantResult struct {
	Tier             string            `json:"tier"`
	VariantID        string            `json:"variant_id"`
	ObjectKey        string            `json:"object_key"`
	Version          int64             `json:"version"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	DerivationParams *DerivationParams `json:"derivation_params,omitempty"`
}

type LifecycleEvent struct {
	JobID       string          `json:"job_id"`
	ImageID     string          `json:"image_id"`
	Stage       ProcessingStage `json:"stage"`
	Error       string          `json:"error,omitempty"`
	FailureType FailureType     `json:"failure_type,omitempty"`
	HappenedAt  int64           `json:"happened_at"`
}

// VariantsDone closes out one job, successful or not.
type VariantsDone struct {
	JobID            string           `json:"job_id"`
	ImageID          string           `json:"image_id"`
	AccountID        string           `json:"account_id"`
	Stage            ProcessingStage  `json:"stage"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Results          []VariantResult  `json:"results,omitempty"`
	Lifecycle        []LifecycleEvent `json:"lifecycle,omitempty"`
	Error            string           `json:"error,omitempty"`
	FailureType      FailureType      `json:"failure_type,omitempty"`
	HappenedAt       int64            `json:"happened_at"`
}
