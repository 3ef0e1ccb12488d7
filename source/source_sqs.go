package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ErrClosed is returned when Receive is called after the queue has been closed.
var ErrClosed = errors.New("source closed")

type SQSQueueConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32
}

func (c *SQSQueueConfig) validate() {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		panic("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		panic("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		panic("visibility timeout must be non-negative")
	}
}

// DefaultSQSQueueConfig takes one message at a time so that nothing sits in a
// local buffer while its visibility timeout runs down.
var DefaultSQSQueueConfig = SQSQueueConfig{
	WaitTimeSeconds: 1,
	MaxMessages:     1,
	VisibilityTO:    30,
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue reads requests from an SQS queue. The visibility timeout is the
// lease: a message is hidden from other consumers until it is deleted or the
// timeout runs out.
//
// SQSQueue is not safe for concurrent use.
type SQSQueue struct {
	cfg SQSQueueConfig

	client      sqsAPI
	queueURL    string
	queueURLPtr *string

	pending []sqstypes.Message
	closed  bool
}

func NewSQSQueue(client sqsAPI, queueURL string, cfg SQSQueueConfig) *SQSQueue {
	if client == nil {
		panic("sqs client is required")
	}
	if queueURL == "" {
		panic("queue url is required")
	}
	cfg.validate()

	q := &SQSQueue{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
	}
	q.queueURLPtr = &q.queueURL
	return q
}

func (q *SQSQueue) Receive(ctx context.Context) (Entry, bool, error) {
	if q.closed {
		return Entry{}, false, ErrClosed
	}

	if len(q.pending) == 0 {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            q.queueURLPtr,
			MaxNumberOfMessages: q.cfg.MaxMessages,
			WaitTimeSeconds:     q.cfg.WaitTimeSeconds,
			VisibilityTimeout:   q.cfg.VisibilityTO,
		})
		if err != nil {
			return Entry{}, false, fmt.Errorf("receive sqs message queue=%q: %w", q.queueURL, err)
		}
		q.pending = append(q.pending, out.Messages...)
	}
	if len(q.pending) == 0 {
		return Entry{}, false, nil
	}

	m := q.pending[0]
	q.pending[0] = sqstypes.Message{}
	q.pending = q.pending[1:]

	return Entry{
		Key:    aws.ToString(m.MessageId),
		Body:   []byte(aws.ToString(m.Body)),
		handle: aws.ToString(m.ReceiptHandle),
	}, true, nil
}

func (q *SQSQueue) Delete(ctx context.Context, e Entry) error {
	if e.handle == "" {
		return fmt.Errorf("sqs delete id=%s: missing receipt handle", e.Key)
	}
	rh := e.handle
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      q.queueURLPtr,
		ReceiptHandle: &rh,
	})
	if err != nil {
		return fmt.Errorf("sqs delete id=%s: %w", e.Key, err)
	}
	return nil
}

// Close drops buffered messages; they become visible again once their
// visibility timeout expires.
func (q *SQSQueue) Close() {
	q.closed = true
	q.pending = nil
}
