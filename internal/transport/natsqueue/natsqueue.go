// Copyright 2025 James Ross
//
// Package natsqueue implements transport.Queue over NATS JetStream, the
// alternative backend spec.md §6 allows in place of SQS FIFO. Each message
// is published on a group-scoped subject (subject = "<subjectPrefix>.<groupID>")
// and read back by one durable pull consumer on the wildcard subject, and
// dedup on enqueue uses JetStream's Nats-Msg-Id header within the stream's
// configured dedup window.
package natsqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ssh-randy/payments-core/internal/transport"
)

// Queue adapts a JetStream stream to transport.Queue. One durable pull
// consumer bound to a wildcard subject serves ReceiveBatch; Enqueue
// publishes to the group-scoped subject under that wildcard so JetStream
// preserves per-group order.
type Queue struct {
	js            nats.JetStreamContext
	subjectPrefix string
	sub           *nats.Subscription
	pending       map[string]*nats.Msg
}

func New(natsURL, streamName, subjectPrefix, durableName string, ackWait time.Duration) (*Queue, error) {
	nc, err := nats.Connect(natsURL, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	wildcard := subjectPrefix + ".*"
	if _, err := js.StreamInfo(streamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:       streamName,
			Subjects:   []string{wildcard},
			Duplicates: 2 * time.Minute,
		}); err != nil {
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	sub, err := js.PullSubscribe(wildcard, durableName, nats.AckWait(ackWait), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}

	return &Queue{js: js, subjectPrefix: subjectPrefix, sub: sub, pending: make(map[string]*nats.Msg)}, nil
}

func (q *Queue) Enqueue(ctx context.Context, groupID, dedupID string, payload []byte) error {
	subject := q.subjectPrefix + "." + groupID
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, dedupID)
	_, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

func (q *Queue) ReceiveBatch(ctx context.Context, maxMessages int) ([]transport.Message, error) {
	msgs, err := q.sub.Fetch(maxMessages, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}

	out := make([]transport.Message, 0, len(msgs))
	for _, m := range msgs {
		meta, err := m.Metadata()
		receiveCount := 1
		seq := uint64(0)
		if err == nil {
			receiveCount = int(meta.NumDelivered)
			seq = meta.Sequence.Stream
		}
		handle := fmt.Sprintf("%s:%d", m.Subject, seq)
		out = append(out, transport.Message{
			ID:            strconv.FormatUint(seq, 10),
			Payload:       m.Data,
			GroupID:       groupFromSubject(m.Subject, q.subjectPrefix),
			ReceiptHandle: handle,
			ReceiveCount:  receiveCount,
		})
		q.pending[handle] = m
	}
	return out, nil
}

func (q *Queue) Delete(ctx context.Context, msg transport.Message) error {
	m, ok := q.pending[msg.ReceiptHandle]
	if !ok {
		return nil
	}
	delete(q.pending, msg.ReceiptHandle)
	return m.Ack()
}

func groupFromSubject(subject, prefix string) string {
	if len(subject) <= len(prefix)+1 {
		return ""
	}
	return subject[len(prefix)+1:]
}
