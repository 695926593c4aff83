package events

import (
	"sync"

	"github.com/tendant/simple-photos/pkg/schema"
)

// Recorder keeps events in memory for inspection.
type Recorder struct {
	mu        sync.Mutex
	Accepted  []schema.ImageAccepted
	Stages    []schema.LifecycleEvent
	Completed []schema.VariantsDone
}

func (r *Recorder) ImageAccepted(e schema.ImageAccepted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Accepted = append(r.Accepted, e)
}

func (r *Recorder) Lifecycle(e schema.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, e)
}

func (r *Recorder) VariantsDone(e schema.VariantsDone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed = append(r.Completed, e)
}

// Done returns a copy of the completion events.
func (r *Recorder) Done() []schema.VariantsDone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.VariantsDone(nil), r.Completed...)
}
