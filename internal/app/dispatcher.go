/**
 * @description
 * The dispatcher sits between the RabbitMQ consumer and the recurring
 * transaction processor. It bounds how fast any single user's due events are
 * processed while leaving different users fully parallel.
 *
 * Each user gets a lazily created FIFO queue drained by one worker goroutine,
 * so a user's events process in arrival order and never concurrently (no
 * lost-update races on that user's balances). Before each processing call the
 * worker acquires capacity from the per-user rate limiter; when the window is
 * exhausted it waits, bounded by MaxWait, and past that bound the delivery is
 * handed back to the broker for redelivery rather than dropped. Limiter errors
 * fail open: the delivery is processed unthrottled instead of stalling behind
 * an unreachable limiter. Workers whose queue stays empty past IdleTimeout
 * exit and are recreated on the user's next delivery.
 */
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/wealthos/recurring-service/internal/domain"
)

// UserThrottle gates how many processing operations one user may run per
// rolling window.
type UserThrottle interface {
	Acquire(ctx context.Context, userID string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// DispatcherConfig tunes the per-user throttle and queueing behaviour.
type DispatcherConfig struct {
	// Limit is the maximum number of processing operations per user per Window.
	Limit  int
	Window time.Duration
	// MaxWait bounds, per delivery, how long a worker blocks waiting for
	// throttle capacity before that delivery is requeued at the broker.
	MaxWait time.Duration
	// QueueSize bounds each user's in-process queue. Deliveries beyond it are
	// requeued at the broker, preserving at-least-once semantics.
	QueueSize int
	// IdleTimeout is how long a user's worker lingers with an empty queue
	// before it exits and frees its queue slot.
	IdleTimeout time.Duration
}

type dispatchTask struct {
	body []byte
	done func(ok bool)
}

// Dispatcher fans deliveries out to per-user worker queues.
type Dispatcher struct {
	process  func(body []byte) bool
	throttle UserThrottle
	config   DispatcherConfig
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]chan dispatchTask
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher that hands throttled work to process.
// The process function follows the consumer contract: true to ack, false to
// requeue.
func NewDispatcher(process func(body []byte) bool, throttle UserThrottle, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		process:  process,
		throttle: throttle,
		config:   cfg,
		logger:   logger,
		queues:   make(map[string]chan dispatchTask),
	}
}

// Submit enqueues one delivery. It must be called from a single goroutine per
// source (the consumer loop) so per-user FIFO order matches arrival order.
// done is invoked exactly once, possibly on another goroutine.
func (d *Dispatcher) Submit(body []byte, done func(ok bool)) {
	var event domain.DueTransactionEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Validate() != nil {
		// Malformed payloads never gain a queue slot; the processor logs the
		// drop decision.
		done(d.process(body))
		return
	}

	userID := event.UserID.String()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		done(false)
		return
	}
	queue, ok := d.queues[userID]
	if !ok {
		queue = make(chan dispatchTask, d.config.QueueSize)
		d.queues[userID] = queue
		d.wg.Add(1)
		go d.runWorker(userID, queue)
	}

	// The send stays under the lock so Close cannot close the queue between
	// the closed check and the send. It never blocks: the channel is buffered
	// and the full case falls through immediately.
	select {
	case queue <- dispatchTask{body: body, done: done}:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		d.logger.Warn("per-user queue full, requeueing delivery at broker",
			"user_id", userID, "queue_size", d.config.QueueSize)
		done(false)
	}
}

// Close stops accepting new deliveries and waits for the workers to drain
// their queues.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(userID string, queue chan dispatchTask) {
	defer d.wg.Done()
	idle := time.NewTimer(d.config.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-queue:
			if !ok {
				return
			}
			task.done(d.runThrottled(userID, task.body))
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.config.IdleTimeout)
		case <-idle.C:
			// Sends happen under d.mu, so an empty queue observed under the
			// lock stays empty once the entry is removed.
			d.mu.Lock()
			if d.closed || len(queue) > 0 {
				d.mu.Unlock()
				continue
			}
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
	}
}

// runThrottled blocks until the user has capacity or MaxWait elapses, then
// processes the delivery. Limiter failures fail open: an unreachable limiter
// must not stall recurring transactions.
func (d *Dispatcher) runThrottled(userID string, body []byte) bool {
	deadline := time.Now().Add(d.config.MaxWait)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		allowed, retryAfter, err := d.throttle.Acquire(ctx, userID, d.config.Limit, d.config.Window)
		cancel()

		if err != nil {
			d.logger.Warn("throttle check failed, proceeding without throttle",
				"user_id", userID, "error", err)
			return d.process(body)
		}
		if allowed {
			return d.process(body)
		}
		if time.Now().Add(retryAfter).After(deadline) {
			d.logger.Info("throttle capacity not available within bounded wait, requeueing",
				"user_id", userID, "retry_after", retryAfter.String())
			return false
		}
		time.Sleep(retryAfter)
	}
}
