package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wealthos/recurring-service/internal/domain"
)

type throttleStub struct {
	mu         sync.Mutex
	acquired   map[string]int
	denyUsers  map[string]bool
	retryAfter time.Duration
	err        error
}

func newThrottleStub() *throttleStub {
	return &throttleStub{
		acquired:   make(map[string]int),
		denyUsers:  make(map[string]bool),
		retryAfter: 5 * time.Millisecond,
	}
}

func (s *throttleStub) Acquire(ctx context.Context, userID string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, 0, s.err
	}
	if s.denyUsers[userID] {
		return false, s.retryAfter, nil
	}
	s.acquired[userID]++
	return true, 0, nil
}

type processRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *processRecorder) process(body []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return true
}

func (r *processRecorder) transactionIDs(t *testing.T) []uuid.UUID {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.bodies))
	for _, body := range r.bodies {
		var event domain.DueTransactionEvent
		if err := json.Unmarshal(body, &event); err != nil {
			t.Fatalf("unmarshal recorded body: %v", err)
		}
		ids = append(ids, event.TransactionID)
	}
	return ids
}

func dueEventBody(t *testing.T, transactionID, userID uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(domain.DueTransactionEvent{TransactionID: transactionID, UserID: userID})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func defaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Limit: 10, Window: time.Minute, MaxWait: 50 * time.Millisecond, QueueSize: 64}
}

func TestDispatcher_PerUserFIFOOrder(t *testing.T) {
	recorder := &processRecorder{}
	d := NewDispatcher(recorder.process, newThrottleStub(), defaultDispatcherConfig(), testLogger())

	userID := uuid.New()
	want := make([]uuid.UUID, 0, 8)
	acks := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		txID := uuid.New()
		want = append(want, txID)
		d.Submit(dueEventBody(t, txID, userID), func(ok bool) { acks <- ok })
	}
	for i := 0; i < 8; i++ {
		if ok := <-acks; !ok {
			t.Fatal("expected every delivery to ack")
		}
	}
	d.Close()

	got := recorder.transactionIDs(t)
	if len(got) != len(want) {
		t.Fatalf("processed %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d processed out of order: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatcher_AllEventsEventuallyProcessed(t *testing.T) {
	recorder := &processRecorder{}
	throttle := newThrottleStub()
	d := NewDispatcher(recorder.process, throttle, defaultDispatcherConfig(), testLogger())

	userID := uuid.New()
	acks := make(chan bool, 15)
	for i := 0; i < 15; i++ {
		d.Submit(dueEventBody(t, uuid.New(), userID), func(ok bool) { acks <- ok })
	}
	for i := 0; i < 15; i++ {
		if ok := <-acks; !ok {
			t.Fatalf("delivery %d was requeued instead of processed", i)
		}
	}
	d.Close()

	if len(recorder.transactionIDs(t)) != 15 {
		t.Fatalf("expected 15 processed events, got %d", len(recorder.transactionIDs(t)))
	}
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if throttle.acquired[userID.String()] != 15 {
		t.Fatalf("expected one throttle acquisition per event, got %d", throttle.acquired[userID.String()])
	}
}

func TestDispatcher_BoundedWaitRequeuesWithoutDropping(t *testing.T) {
	recorder := &processRecorder{}
	throttle := newThrottleStub()
	userID := uuid.New()
	throttle.denyUsers[userID.String()] = true

	cfg := defaultDispatcherConfig()
	cfg.MaxWait = 15 * time.Millisecond
	d := NewDispatcher(recorder.process, throttle, cfg, testLogger())
	defer d.Close()

	ack := make(chan bool, 1)
	d.Submit(dueEventBody(t, uuid.New(), userID), func(ok bool) { ack <- ok })

	select {
	case ok := <-ack:
		if ok {
			t.Fatal("throttled delivery must be requeued, not acknowledged")
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher never completed the throttled delivery")
	}
	if len(recorder.transactionIDs(t)) != 0 {
		t.Fatal("throttled delivery was processed despite exhausted wait")
	}
}

func TestDispatcher_UsersAreIsolated(t *testing.T) {
	recorder := &processRecorder{}
	throttle := newThrottleStub()
	throttledUser := uuid.New()
	freeUser := uuid.New()
	throttle.denyUsers[throttledUser.String()] = true

	cfg := defaultDispatcherConfig()
	cfg.MaxWait = 20 * time.Millisecond
	d := NewDispatcher(recorder.process, throttle, cfg, testLogger())

	throttledAck := make(chan bool, 1)
	freeAck := make(chan bool, 1)
	d.Submit(dueEventBody(t, uuid.New(), throttledUser), func(ok bool) { throttledAck <- ok })
	freeTx := uuid.New()
	d.Submit(dueEventBody(t, freeTx, freeUser), func(ok bool) { freeAck <- ok })

	select {
	case ok := <-freeAck:
		if !ok {
			t.Fatal("unthrottled user's delivery was requeued")
		}
	case <-time.After(time.Second):
		t.Fatal("unthrottled user's delivery blocked behind another user's throttle")
	}
	if ok := <-throttledAck; ok {
		t.Fatal("throttled user's delivery should have been requeued")
	}
	d.Close()

	ids := recorder.transactionIDs(t)
	if len(ids) != 1 || ids[0] != freeTx {
		t.Fatalf("expected only the unthrottled user's event processed, got %v", ids)
	}
}

func TestDispatcher_ThrottleOutageFailsOpen(t *testing.T) {
	recorder := &processRecorder{}
	throttle := newThrottleStub()
	throttle.err = context.DeadlineExceeded
	d := NewDispatcher(recorder.process, throttle, defaultDispatcherConfig(), testLogger())

	ack := make(chan bool, 1)
	d.Submit(dueEventBody(t, uuid.New(), uuid.New()), func(ok bool) { ack <- ok })
	if ok := <-ack; !ok {
		t.Fatal("limiter outage must not block processing")
	}
	d.Close()
	if len(recorder.transactionIDs(t)) != 1 {
		t.Fatal("expected event to be processed despite limiter outage")
	}
}

func TestDispatcher_MalformedPayloadBypassesQueues(t *testing.T) {
	recorder := &processRecorder{}
	d := NewDispatcher(recorder.process, newThrottleStub(), defaultDispatcherConfig(), testLogger())
	defer d.Close()

	ack := make(chan bool, 1)
	d.Submit([]byte("{not json"), func(ok bool) { ack <- ok })
	if ok := <-ack; !ok {
		t.Fatal("malformed payload decision should come straight from the processor")
	}
}

func TestDispatcher_SubmitRacingCloseCompletesEveryDelivery(t *testing.T) {
	for round := 0; round < 100; round++ {
		recorder := &processRecorder{}
		d := NewDispatcher(recorder.process, newThrottleStub(), defaultDispatcherConfig(), testLogger())

		userID := uuid.New()
		const deliveries = 20
		bodies := make([][]byte, deliveries)
		for i := range bodies {
			bodies[i] = dueEventBody(t, uuid.New(), userID)
		}

		var completions sync.WaitGroup
		completions.Add(deliveries)
		submitted := make(chan struct{})
		go func() {
			defer close(submitted)
			for _, body := range bodies {
				d.Submit(body, func(ok bool) { completions.Done() })
			}
		}()

		// Close races the submitting goroutine. Every delivery must still be
		// completed exactly once, either processed or handed back, without a
		// send on a closed queue.
		d.Close()
		<-submitted
		completions.Wait()
	}
}

func TestDispatcher_IdleWorkerIsReapedAndRecreated(t *testing.T) {
	cfg := defaultDispatcherConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	recorder := &processRecorder{}
	d := NewDispatcher(recorder.process, newThrottleStub(), cfg, testLogger())
	defer d.Close()

	userID := uuid.New()
	ack := make(chan bool, 1)
	d.Submit(dueEventBody(t, uuid.New(), userID), func(ok bool) { ack <- ok })
	if ok := <-ack; !ok {
		t.Fatal("expected the delivery to ack")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		remaining := len(d.queues)
		d.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("idle worker still registered after timeout, %d queues remain", remaining)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The next delivery for the same user gets a fresh worker.
	d.Submit(dueEventBody(t, uuid.New(), userID), func(ok bool) { ack <- ok })
	if ok := <-ack; !ok {
		t.Fatal("delivery after worker reap was not processed")
	}
	if len(recorder.transactionIDs(t)) != 2 {
		t.Fatalf("expected both deliveries processed, got %d", len(recorder.transactionIDs(t)))
	}
}

func TestDispatcher_SubmitAfterCloseRequeues(t *testing.T) {
	recorder := &processRecorder{}
	d := NewDispatcher(recorder.process, newThrottleStub(), defaultDispatcherConfig(), testLogger())
	d.Close()

	ack := make(chan bool, 1)
	d.Submit(dueEventBody(t, uuid.New(), uuid.New()), func(ok bool) { ack <- ok })
	if ok := <-ack; ok {
		t.Fatal("deliveries after close must return to the broker")
	}
}
