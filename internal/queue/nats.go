package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-photos/internal/bus"
	"github.com/tendant/simple-photos/internal/domain"
)

// NATS distributes jobs over a core NATS queue group so several processes
// can share the work. Delivery is at-most-once.
type NATS struct {
	client  *bus.Client
	subject string
	sub     *nats.Subscription
	msgs    chan *nats.Msg

	once sync.Once
	done chan struct{}
}

// NewNATS publishes on subject. When group is non-empty it also joins the
// queue group so Dequeue receives jobs; buffer bounds the local backlog.
func NewNATS(client *bus.Client, subject, group string, buffer int) (*NATS, error) {
	q := &NATS{
		client:  client,
		subject: subject,
		done:    make(chan struct{}),
	}
	if group == "" {
		return q, nil
	}
	if buffer <= 0 {
		buffer = 256
	}
	q.msgs = make(chan *nats.Msg, buffer)
	sub, err := client.QueueSubscribe(subject, group, q.msgs)
	if err != nil {
		return nil, err
	}
	q.sub = sub
	return q, nil
}

func (q *NATS) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if err := q.client.PublishJSON(q.subject, job); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ImageID, err)
	}
	return nil
}

// Dequeue returns a wrapped domain.ErrInvalidInput for undecodable messages;
// callers log and keep consuming.
func (q *NATS) Dequeue(ctx context.Context) (domain.Job, error) {
	if q.msgs == nil {
		return domain.Job{}, fmt.Errorf("queue %s has no subscription", q.subject)
	}
	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	case <-q.done:
		// Hand out what was already buffered before reporting closed.
		select {
		case msg := <-q.msgs:
			return decodeJob(msg)
		default:
			return domain.Job{}, ErrClosed
		}
	case msg := <-q.msgs:
		return decodeJob(msg)
	}
}

func (q *NATS) Close() error {
	var err error
	q.once.Do(func() {
		close(q.done)
		if q.sub != nil {
			err = q.sub.Unsubscribe()
		}
	})
	return err
}

// Len is the number of received jobs not yet dequeued.
func (q *NATS) Len() int {
	return len(q.msgs)
}

func decodeJob(msg *nats.Msg) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("%w: decode job: %v", domain.ErrInvalidInput, err)
	}
	if err := job.Validate(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}
