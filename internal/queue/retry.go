package queue

import (
	"errors"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a failed message is re-delivered before it is
// dead-lettered.
const MaxRetries = 10

const retriesHeader = "x-retries"

// RetryCount reads the retry counter of a delivery.
func RetryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleProcessingError routes a failed delivery to <queue>_retry with an
// incremented counter, or to <queue>_dlq once MaxRetries is reached. The
// original delivery is acked after a successful publish and requeued
// otherwise. It reports whether the message was dead-lettered.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string) bool {
	retries := RetryCount(msg.Headers)

	if retries >= MaxRetries {
		return DeadLetter(ch, msg, queueName)
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	retryName := queueName + "_retry"
	err := ch.Publish("", retryName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return false
	}
	_ = msg.Ack(false)
	return false
}

// DeadLetter moves a delivery to <queue>_dlq without retrying it. It reports
// whether the message reached the DLQ; on publish failure it is requeued.
func DeadLetter(ch Publisher, msg amqp091.Delivery, queueName string) bool {
	dlqName := queueName + "_dlq"
	logger.Warn("[Queue] sending message to DLQ", "dlq", dlqName, "retries", RetryCount(msg.Headers))
	err := ch.Publish("", dlqName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      msg.Headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] failed to publish to DLQ", "dlq", dlqName, "err", err)
		_ = msg.Nack(false, true)
		return false
	}
	_ = msg.Ack(false)
	return true
}

// IsPermanent reports whether a processing error would fail the same way on
// every redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, common.ErrInvalidLevel) ||
		errors.Is(err, analysis.ErrInvalidKind) ||
		errors.Is(err, analysis.ErrInvalidRequest)
}
