package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Topics.
const (
	TopicCampaignExecutions = "campaign_executions"
	TopicInboundEvents      = "inbound_events"
)

// Handler processes one payload. Returning an error retries the job unless
// the error is wrapped with Permanent.
type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// InMemoryQueue delivers each job to every subscriber of its topic on a new
// goroutine and retries failures with exponential backoff.
type InMemoryQueue struct {
	mu          sync.Mutex
	handlers    map[string][]Handler
	wg          sync.WaitGroup
	MaxAttempts int
	Backoff     time.Duration
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:    make(map[string][]Handler),
		MaxAttempts: 4,
		Backoff:     500 * time.Millisecond,
	}
}

func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, h := range handlers {
		q.wg.Add(1)
		go func(h Handler) {
			defer q.wg.Done()
			q.process(context.WithoutCancel(ctx), topic, h, payload)
		}(h)
	}
	return nil
}

func (q *InMemoryQueue) process(ctx context.Context, topic string, h Handler, payload []byte) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.Backoff
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := h(ctx, payload)
		if err != nil && !isPermanent(err) {
			log.Printf("⚠️ %s job failed (attempt %d/%d): %v", topic, attempt, q.MaxAttempts, err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(q.MaxAttempts, 1))),
	)
	if err != nil {
		log.Printf("❌ %s job dropped after %d attempts: %v", topic, attempt, err)
	}
}

func (q *InMemoryQueue) Subscribe(_ context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, retries included.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *InMemoryQueue) Close() error {
	q.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
