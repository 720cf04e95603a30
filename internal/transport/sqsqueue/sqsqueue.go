// Copyright 2025 James Ross
//
// Package sqsqueue implements transport.Queue over AWS SQS FIFO, the
// queue backend spec.md §6 describes literally: MessageGroupId carries the
// restaurant_id (ordering within one restaurant), MessageDeduplicationId
// carries the outbox entry id (dedup on enqueue retries), and
// ApproximateReceiveCount is surfaced as transport.Message.ReceiveCount for
// the orchestrator's retry policy.
package sqsqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/ssh-randy/payments-core/internal/transport"
)

// Queue adapts an SQS FIFO queue to transport.Queue.
type Queue struct {
	client            sqsiface.SQSAPI
	queueURL          string
	visibilityTimeout time.Duration
	waitTime          time.Duration
}

func New(region, queueURL string, visibilityTimeout, waitTime time.Duration) (*Queue, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &Queue{
		client:            sqs.New(sess),
		queueURL:          queueURL,
		visibilityTimeout: visibilityTimeout,
		waitTime:          waitTime,
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, groupID, dedupID string, payload []byte) error {
	_, err := q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.queueURL),
		MessageBody:            aws.String(string(payload)),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

func (q *Queue) ReceiveBatch(ctx context.Context, maxMessages int) ([]transport.Message, error) {
	out, err := q.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   aws.Int64(int64(maxMessages)),
		WaitTimeSeconds:       aws.Int64(int64(q.waitTime.Seconds())),
		VisibilityTimeout:     aws.Int64(int64(q.visibilityTimeout.Seconds())),
		AttributeNames:        aws.StringSlice([]string{sqs.MessageSystemAttributeNameApproximateReceiveCount, sqs.MessageSystemAttributeNameMessageGroupId}),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	msgs := make([]transport.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		receiveCount := 1
		if v, ok := m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; ok && v != nil {
			if n, err := strconv.Atoi(*v); err == nil {
				receiveCount = n
			}
		}
		groupID := ""
		if v, ok := m.Attributes[sqs.MessageSystemAttributeNameMessageGroupId]; ok && v != nil {
			groupID = *v
		}
		msgs = append(msgs, transport.Message{
			ID:            aws.StringValue(m.MessageId),
			Payload:       []byte(aws.StringValue(m.Body)),
			GroupID:       groupID,
			ReceiptHandle: aws.StringValue(m.ReceiptHandle),
			ReceiveCount:  receiveCount,
		})
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, msg transport.Message) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}
