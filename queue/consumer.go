// Package queue implements the message-queue consumer side of the
// worker: a single task type, transcode(job_id), delivered with
// late-ack, reject-on-worker-lost and prefetch=1 so each Consumer holds
// at most one job's delivery at a time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/log"
)

// Task is the single message shape this worker consumes.
type Task struct {
	JobID int64 `json:"job_id"`
}

// Handler processes one delivered job id under the task token the
// producer minted at enqueue time (the job row's task_id must still
// carry it for the claim to succeed). A nil return acks the delivery; a
// xerrors.Transient return nacks-with-requeue so another worker (or this
// one, later) gets another delivery; any other error still acks, since
// job.Runner has already committed ERROR/QUEUED terminal state to the
// catalog for anything reaching that far — redelivering the message
// would only duplicate work the catalog already reflects.
type Handler func(ctx context.Context, jobID int64, taskToken uuid.UUID) error

// Consumer drives one AMQP channel against Queue, redelivering nothing
// itself — all re-queue decisions are the broker's, driven by Ack/Nack
// below.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int

	Handle Handler
}

func (c Consumer) queueName() string {
	if c.Queue != "" {
		return c.Queue
	}
	return "video_transcoding"
}

func (c Consumer) prefetch() int {
	if c.Prefetch > 0 {
		return c.Prefetch
	}
	return 1
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// unbounded exponential backoff on transport loss.
func (c Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := c.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		d := b.NextBackOff()
		log.LogNoRequestID("amqp consumer disconnected, reconnecting", "err", err.Error(), "wait", d.String())
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c Consumer) runOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return xerrors.Transient("dialing amqp broker", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return xerrors.Transient("opening amqp channel", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queueName(), true, false, false, false, nil); err != nil {
		return xerrors.Transient("declaring queue", err)
	}
	if err := ch.Qos(c.prefetch(), 0, false); err != nil {
		return xerrors.Transient("setting qos/prefetch", err)
	}

	deliveries, err := ch.Consume(c.queueName(), "", false /* autoAck: false, late-ack */, false, false, false, nil)
	if err != nil {
		return xerrors.Transient("starting consume", err)
	}

	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return xerrors.Transient("amqp connection closed", amqpErr)
			}
			return fmt.Errorf("amqp connection closed")
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		log.LogNoRequestID("amqp: poison message, rejecting without requeue", "err", err.Error())
		_ = d.Nack(false, false)
		return
	}
	taskToken, err := taskTokenOf(d)
	if err != nil {
		log.LogNoRequestID("amqp: message without a usable task token, rejecting without requeue", "err", err.Error())
		_ = d.Nack(false, false)
		return
	}

	err = c.Handle(ctx, task.JobID, taskToken)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case xerrors.IsTransient(err):
		_ = d.Nack(false, true)
	default:
		_ = d.Ack(false)
	}
}

// taskTokenOf extracts the producer's task identity from the delivery
// envelope: the message id, or the correlation id when the producer put
// the token there instead.
func taskTokenOf(d amqp.Delivery) (uuid.UUID, error) {
	if token, err := uuid.Parse(d.MessageId); err == nil {
		return token, nil
	}
	return uuid.Parse(d.CorrelationId)
}
