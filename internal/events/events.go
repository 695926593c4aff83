// Package events publishes job lifecycle notifications.
package events

import (
	"log/slog"

	"github.com/tendant/simple-photos/internal/bus"
	"github.com/tendant/simple-photos/pkg/schema"
)

type Publisher interface {
	ImageAccepted(e schema.ImageAccepted)
	Lifecycle(e schema.LifecycleEvent)
	VariantsDone(e schema.VariantsDone)
}

// Nop drops every event.
type Nop struct{}

func (Nop) ImageAccepted(schema.ImageAccepted) {}
func (Nop) Lifecycle(schema.LifecycleEvent)    {}
func (Nop) VariantsDone(schema.VariantsDone)   {}

// NATS publishes to subject, subject+".lifecycle" and subject+".accepted".
// Publish errors are logged and never fail the caller.
type NATS struct {
	client  *bus.Client
	subject string
	log     *slog.Logger
}

func NewNATS(client *bus.Client, subject string, log *slog.Logger) *NATS {
	return &NATS{client: client, subject: subject, log: log}
}

func (p *NATS) ImageAccepted(e schema.ImageAccepted) {
	if err := p.client.PublishJSON(p.subject+".accepted", e); err != nil {
		p.log.Error("publish accepted event failed", "subject", p.subject, "image_id", e.ImageID, "err", err)
	}
}

func (p *NATS) Lifecycle(e schema.LifecycleEvent) {
	if err := p.client.PublishJSON(p.subject+".lifecycle", e); err != nil {
		p.log.Error("publish lifecycle event failed", "subject", p.subject, "stage", e.Stage, "err", err)
	}
}

func (p *NATS) VariantsDone(e schema.VariantsDone) {
	if err := p.client.PublishJSON(p.subject, e); err != nil {
		p.log.Error("publish result failed", "subject", p.subject, "job_id", e.JobID, "err", err)
	}
}
