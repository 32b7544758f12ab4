package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const attemptHeader = "x-attempt"

// AMQPQueue maps topics to durable RabbitMQ queues. Consumers ack manually;
// a failed job is republished with its attempt count bumped and dropped to
// the dead-letter path after MaxAttempts.
type AMQPQueue struct {
	conn        *amqp.Connection
	mu          sync.Mutex // guards pub
	pub         *amqp.Channel
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &AMQPQueue{conn: conn, pub: ch, MaxAttempts: 4, RetryDelay: time.Second}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return q.publish(topic, payload, 1)
}

func (q *AMQPQueue) publish(topic string, payload []byte, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := declare(q.pub, topic); err != nil {
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	return q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Body:         payload,
	})
}

// Subscribe consumes on its own channel until ctx is cancelled.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return err
	}
	tag := topic + "-" + uuid.NewString()
	msgs, err := ch.Consume(
		topic,
		tag,
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel(tag, false)
		ch.Close()
	}()
	go func() {
		for d := range msgs {
			q.deliver(ctx, topic, handler, d)
		}
		log.Printf("⏸️ consumer for %s stopped", topic)
	}()
	return nil
}

func (q *AMQPQueue) deliver(ctx context.Context, topic string, handler Handler, d amqp.Delivery) {
	attempt := attemptOf(d.Headers)
	err := handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if isPermanent(err) || attempt >= q.MaxAttempts {
		log.Printf("❌ %s job dropped after %d attempts: %v", topic, attempt, err)
		_ = d.Nack(false, false)
		return
	}

	log.Printf("⚠️ %s job failed (attempt %d/%d): %v", topic, attempt, q.MaxAttempts, err)
	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	case <-time.After(time.Duration(attempt) * q.RetryDelay):
	}
	if err := q.publish(topic, d.Body, attempt+1); err != nil {
		log.Printf("⚠️ requeue %s job: %v", topic, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.pub.Close(); err != nil {
		log.Printf("⚠️ close publish channel: %v", err)
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
