// Package process tracks a variant job through its state machine.
package process

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/pkg/schema"
)

var transitions = map[schema.ProcessingStage][]schema.ProcessingStage{
	schema.StageReceived:      {schema.StageDownloading, schema.StageFailed},
	schema.StageDownloading:   {schema.StageUploading, schema.StageFailed},
	schema.StageUploading:     {schema.StageUploaded, schema.StageUploadFailed},
	schema.StageUploadFailed:  {schema.StageCleanup},
	schema.StageUploaded:      {schema.StageDBTransaction},
	schema.StageDBTransaction: {schema.StageCommitted, schema.StageDBFailed},
	schema.StageDBFailed:      {schema.StageCleanup},
	schema.StageCleanup:       {schema.StageFailed},
}

// ErrBadTransition means a step was attempted out of order.
var ErrBadTransition = errors.New("invalid stage transition")

// Job is the audit record of one run.
type Job struct {
	ID          string
	ImageID     uuid.UUID
	Stage       schema.ProcessingStage
	Error       string
	FailureType schema.FailureType
	StartedAt   time.Time
	Lifecycle   []schema.LifecycleEvent

	now func() time.Time
}

func NewJob(id string, imageID uuid.UUID) *Job {
	j := &Job{ID: id, ImageID: imageID, now: time.Now}
	j.StartedAt = j.now()
	j.record(schema.StageReceived, nil, "")
	return j
}

// Advance moves to next, refusing transitions the state machine forbids.
func (j *Job) Advance(next schema.ProcessingStage) error {
	if !allowed(j.Stage, next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, j.Stage, next)
	}
	j.record(next, nil, "")
	return nil
}

// Fail records err and moves to failure, passing through the failure and
// cleanup stages when the current stage requires them.
func (j *Job) Fail(err error) {
	ft := Classify(err)
	switch j.Stage {
	case schema.StageUploading:
		j.record(schema.StageUploadFailed, err, ft)
		j.record(schema.StageCleanup, nil, "")
	case schema.StageDBTransaction, schema.StageUploaded:
		j.record(schema.StageDBFailed, err, ft)
		j.record(schema.StageCleanup, nil, "")
	}
	if j.Stage != schema.StageFailed {
		j.record(schema.StageFailed, err, ft)
	}
	if err != nil {
		j.Error = err.Error()
	}
	j.FailureType = ft
}

func (j *Job) Terminal() bool {
	return j.Stage == schema.StageCommitted || j.Stage == schema.StageFailed
}

// Duration is the time since the job was received.
func (j *Job) Duration() time.Duration {
	return j.now().Sub(j.StartedAt)
}

func (j *Job) record(stage schema.ProcessingStage, err error, ft schema.FailureType) {
	j.Stage = stage
	event := schema.LifecycleEvent{
		JobID:      j.ID,
		ImageID:    j.ImageID.String(),
		Stage:      stage,
		HappenedAt: j.now().Unix(),
	}
	if err != nil {
		event.Error = err.Error()
		event.FailureType = ft
	}
	j.Lifecycle = append(j.Lifecycle, event)
}

func allowed(from, to schema.ProcessingStage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Classify decides whether a failure is worth retrying.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return schema.FailureTypeValidation
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicate) {
		return schema.FailureTypePermanent
	}
	// Store and network hiccups.
	return schema.FailureTypeRetryable
}
