package mail

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/course-registration-api/pkg/jobs"
)

// JobType tags mail jobs on the queue.
const JobType = "mail.send"

type enqueuer interface {
	EnqueueContext(ctx context.Context, job jobs.Job) error
}

// QueuedMailer hands messages to the background queue so requests do not
// wait on the provider.
type QueuedMailer struct {
	queue enqueuer
}

// NewQueuedMailer wraps a queue.
func NewQueuedMailer(queue enqueuer) *QueuedMailer {
	return &QueuedMailer{queue: queue}
}

// Send implements Mailer by enqueueing the message. It returns ctx's error
// when the queue stays full until ctx is done.
func (m *QueuedMailer) Send(ctx context.Context, msg Message) error {
	return m.queue.EnqueueContext(ctx, jobs.Job{ID: uuid.NewString(), Type: JobType, Payload: msg})
}

// Handler delivers queued mail jobs through mailer.
func Handler(mailer Mailer) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(Message)
		if !ok {
			return jobs.Permanent(jobs.ErrUnexpectedPayload)
		}
		return mailer.Send(ctx, msg)
	}
}
