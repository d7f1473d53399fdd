package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// PassQueue carries analysis pass requests.
	PassQueue = "analysis_queue"

	// retried messages wait this long in <queue>_retry before re-delivery
	retryDelay = 10 * time.Second
)

// Declarer declares queues; *amqp091.Channel satisfies it.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Publisher publishes messages; *amqp091.Channel satisfies it.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ConnURL builds the broker URL from RABBITMQ_USER, RABBITMQ_PASSWORD,
// RABBITMQ_HOST and RABBITMQ_PORT.
func ConnURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

func Init() (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(ConnURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue with its <name>_dlq dead-letter queue
// and <name>_retry delay queue, which dead-letters back into the queue once
// the message TTL runs out.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", retryName, err)
		}
	}
	return nil
}

// PublishFIFO publishes a persistent JSON message on the default exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
