package process

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/pkg/schema"
)

func stages(j *Job) []schema.ProcessingStage {
	out := make([]schema.ProcessingStage, len(j.Lifecycle))
	for i, e := range j.Lifecycle {
		out[i] = e.Stage
	}
	return out
}

func equalStages(t *testing.T, got, want []schema.ProcessingStage) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("stage history mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage history mismatch: got %v want %v", got, want)
		}
	}
}

func TestHappyPath(t *testing.T) {
	job := NewJob("job-1", uuid.New())
	for _, s := range []schema.ProcessingStage{
		schema.StageDownloading,
		schema.StageUploading,
		schema.StageUploaded,
		schema.StageDBTransaction,
		schema.StageCommitted,
	} {
		if err := job.Advance(s); err != nil {
			t.Fatalf("Advance(%s) returned error: %v", s, err)
		}
	}
	if !job.Terminal() {
		t.Fatal("committed job should be terminal")
	}
	if job.Error != "" || job.FailureType != "" {
		t.Fatalf("unexpected failure recorded: %q %q", job.Error, job.FailureType)
	}
	if len(job.Lifecycle) != 6 {
		t.Fatalf("expected 6 lifecycle events, got %d", len(job.Lifecycle))
	}
}

func TestAdvanceRejectsSkippingStages(t *testing.T) {
	job := NewJob("job-2", uuid.New())
	err := job.Advance(schema.StageDBTransaction)
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if job.Stage != schema.StageReceived {
		t.Fatalf("stage changed on rejected transition: %s", job.Stage)
	}
}

func TestFailDuringUploadRunsCleanup(t *testing.T) {
	job := NewJob("job-3", uuid.New())
	_ = job.Advance(schema.StageDownloading)
	_ = job.Advance(schema.StageUploading)
	job.Fail(errors.New("connection reset"))

	equalStages(t, stages(job), []schema.ProcessingStage{
		schema.StageReceived,
		schema.StageDownloading,
		schema.StageUploading,
		schema.StageUploadFailed,
		schema.StageCleanup,
		schema.StageFailed,
	})
	if job.Error == "" {
		t.Fatal("job error not recorded")
	}
}

func TestFailDuringTransactionRunsCleanup(t *testing.T) {
	job := NewJob("job-4", uuid.New())
	for _, s := range []schema.ProcessingStage{schema.StageDownloading, schema.StageUploading, schema.StageUploaded, schema.StageDBTransaction} {
		_ = job.Advance(s)
	}
	job.Fail(errors.New("commit failed"))

	got := stages(job)
	equalStages(t, got[len(got)-3:], []schema.ProcessingStage{schema.StageDBFailed, schema.StageCleanup, schema.StageFailed})
}

func TestFailBeforeUploadsSkipsCleanup(t *testing.T) {
	job := NewJob("job-5", uuid.New())
	_ = job.Advance(schema.StageDownloading)
	job.Fail(fmt.Errorf("decode: %w", domain.ErrInvalidInput))

	equalStages(t, stages(job), []schema.ProcessingStage{
		schema.StageReceived,
		schema.StageDownloading,
		schema.StageFailed,
	})
	if job.FailureType != schema.FailureTypeValidation {
		t.Fatalf("unexpected failure type: %s", job.FailureType)
	}
}

func TestFailWithNilErrorLeavesMessageEmpty(t *testing.T) {
	job := NewJob("job-6", uuid.New())
	job.Fail(nil)

	if job.Stage != schema.StageFailed {
		t.Fatalf("job stage not failed: %v", job.Stage)
	}
	if job.Error != "" {
		t.Fatalf("expected empty error string, got %q", job.Error)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want schema.FailureType
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", domain.ErrInvalidInput), schema.FailureTypeValidation},
		{fmt.Errorf("x: %w", domain.ErrNotFound), schema.FailureTypePermanent},
		{errors.New("something odd"), schema.FailureTypeRetryable},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
