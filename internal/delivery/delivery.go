package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/managex/signer/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the bounded queue is at capacity.
// The caller is told delivery was not scheduled; tasks are never dropped
// silently on the way in.
var ErrQueueFull = errors.New("delivery queue is full")

// Task is a unit of outbound notification work. Ownership passes from the
// producer to whichever worker dequeues it; at most one worker holds it at a
// time.
type Task struct {
	ID            uuid.UUID
	TransactionID string

	// Destination is the webhook URL or recipient email address.
	Destination string

	// Payload is the JSON body for webhook deliveries.
	Payload []byte

	// Email-only fields.
	Subject    string
	Recipient  string
	Attachment string

	// Attempts is the number of failed delivery attempts so far.
	Attempts int
}

// Sender attempts a single delivery of a task.
type Sender interface {
	Name() string
	Send(ctx context.Context, task *Task) error
}

// Config configures a dispatcher pool.
type Config struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultConfig mirrors the retry policy of the delivery queues: three
// attempts with a fixed five second delay between them.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:   1024,
		Workers:     4,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
	}
}

// DropFunc is invoked when a task is discarded after exhausting its attempts.
type DropFunc func(task *Task, err error)

// Dispatcher drains a bounded task queue with a fixed pool of workers. Failed
// tasks re-enter the back of the queue with an incremented attempt count, so
// processing order within a pool is not guaranteed.
type Dispatcher struct {
	cfg    *Config
	sender Sender
	queue  chan *Task
	onDrop DropFunc

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given sender. onDrop may be nil.
func NewDispatcher(sender Sender, cfg *Config, onDrop DropFunc) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		queue:  make(chan *Task, cfg.QueueSize),
		onDrop: onDrop,
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool. The dispatcher does no work before Start
// and stops accepting tasks after Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.workerLoop(ctx, i)
		}
		log.Info().
			Str("sender", d.sender.Name()).
			Int("workers", d.cfg.Workers).
			Int("queue_size", d.cfg.QueueSize).
			Msg("Delivery dispatcher started")
	})
}

// Stop signals the workers and waits for them to finish their in-flight
// tasks, or until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Str("sender", d.sender.Name()).Msg("Delivery dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}
}

// Enqueue schedules a task for delivery. It never blocks; when the queue is
// at capacity it returns ErrQueueFull.
func (d *Dispatcher) Enqueue(task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	select {
	case <-d.stopCh:
		return errors.New("dispatcher is stopped")
	default:
	}

	select {
	case d.queue <- task:
		log.Debug().
			Str("sender", d.sender.Name()).
			Str("task_id", task.ID.String()).
			Str("transaction_id", task.TransactionID).
			Msg("Delivery task enqueued")
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case task := <-d.queue:
			d.process(ctx, workerID, task)

		case <-d.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID int, task *Task) {
	m := telemetry.GetMetrics()
	m.DeliveryAttemptsTotal.Add(ctx, 1)

	attempt := task.Attempts + 1
	err := d.sender.Send(ctx, task)
	if err == nil {
		m.DeliveriesTotal.Add(ctx, 1)
		log.Info().
			Int("worker", workerID).
			Str("sender", d.sender.Name()).
			Str("task_id", task.ID.String()).
			Str("transaction_id", task.TransactionID).
			Int("attempt", attempt).
			Msg("Delivery succeeded")
		return
	}

	if attempt >= d.cfg.MaxAttempts {
		m.DeliveriesDroppedTotal.Add(ctx, 1)
		log.Error().
			Err(err).
			Int("worker", workerID).
			Str("sender", d.sender.Name()).
			Str("task_id", task.ID.String()).
			Str("transaction_id", task.TransactionID).
			Int("attempts", attempt).
			Msg("Delivery dropped after maximum attempts")
		if d.onDrop != nil {
			d.onDrop(task, err)
		}
		return
	}

	log.Warn().
		Err(err).
		Int("worker", workerID).
		Str("sender", d.sender.Name()).
		Str("task_id", task.ID.String()).
		Int("attempt", attempt).
		Dur("retry_delay", d.cfg.RetryDelay).
		Msg("Delivery failed, will retry")

	// Fixed backoff, then back of the queue. An in-flight retry may be
	// reordered behind newly enqueued tasks.
	select {
	case <-time.After(d.cfg.RetryDelay):
	case <-d.stopCh:
		return
	case <-ctx.Done():
		return
	}

	task.Attempts = attempt
	if err := d.Enqueue(task); err != nil {
		m.DeliveriesDroppedTotal.Add(ctx, 1)
		log.Error().
			Err(err).
			Str("sender", d.sender.Name()).
			Str("task_id", task.ID.String()).
			Msg("Failed to requeue delivery task")
		if d.onDrop != nil {
			d.onDrop(task, err)
		}
	}
}
