package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads a topic as part of a consumer group and commits each
// message only after the handler accepted it.
type Consumer struct {
	reader     messageReader
	log        *logrus.Entry
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, log *logrus.Entry) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		log:        log.WithField("topic", topic),
		retryDelay: time.Second,
	}
}

// Run blocks until ctx is done. A message the handler rejects is retried
// after a delay and never skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to fetch message")
		}

		for {
			err := handle(ctx, msg)
			if err == nil {
				break
			}
			c.log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("failed to handle message")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to commit message")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// ContentType returns the content-type header of msg, or "".
func ContentType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderContentType {
			return string(h.Value)
		}
	}
	return ""
}
