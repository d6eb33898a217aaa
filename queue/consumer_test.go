package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	xerrors "github.com/livepeer/transcode-worker/errors"
)

type fakeAcknowledger struct {
	acked  []uint64
	nacked []nackCall
}

type nackCall struct {
	tag     uint64
	multi   bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, nackCall{tag, multiple, requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = append(f.nacked, nackCall{tag, false, requeue})
	return nil
}

func delivery(t *testing.T, ack *fakeAcknowledger, task Task, token uuid.UUID) amqp.Delivery {
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, DeliveryTag: 1, MessageId: token.String()}
}

func TestHandleAcksOnSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	token := uuid.New()
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		require.Equal(t, int64(99), jobID)
		require.Equal(t, token, taskToken)
		return nil
	}}
	c.handle(context.Background(), delivery(t, ack, Task{JobID: 99}, token))
	require.Equal(t, []uint64{1}, ack.acked)
	require.Empty(t, ack.nacked)
}

func TestHandleNacksWithRequeueOnTransientError(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		return xerrors.Transient("catalog unreachable", nil)
	}}
	c.handle(context.Background(), delivery(t, ack, Task{JobID: 1}, uuid.New()))
	require.Len(t, ack.nacked, 1)
	require.True(t, ack.nacked[0].requeue)
}

func TestHandleAcksWithoutRequeueOnApplicationError(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		return xerrors.Profile("no compatible video profiles")
	}}
	c.handle(context.Background(), delivery(t, ack, Task{JobID: 1}, uuid.New()))
	require.Equal(t, []uint64{1}, ack.acked)
	require.Empty(t, ack.nacked)
}

func TestHandlePoisonMessageRejectedWithoutRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		t.Fatal("handler should not be invoked for unparseable body")
		return nil
	}}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("not json"), DeliveryTag: 5})
	require.Len(t, ack.nacked, 1)
	require.False(t, ack.nacked[0].requeue)
}

func TestHandleMissingTaskTokenRejectedWithoutRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		t.Fatal("handler should not be invoked without a task token")
		return nil
	}}
	body, err := json.Marshal(Task{JobID: 1})
	require.NoError(t, err)
	c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body, DeliveryTag: 2})
	require.Len(t, ack.nacked, 1)
	require.False(t, ack.nacked[0].requeue)
}

func TestHandleTaskTokenFromCorrelationID(t *testing.T) {
	ack := &fakeAcknowledger{}
	token := uuid.New()
	var got uuid.UUID
	c := Consumer{Handle: func(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
		got = taskToken
		return nil
	}}
	body, err := json.Marshal(Task{JobID: 1})
	require.NoError(t, err)
	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack, Body: body, DeliveryTag: 3, CorrelationId: token.String(),
	})
	require.Equal(t, token, got)
	require.Equal(t, []uint64{3}, ack.acked)
}
