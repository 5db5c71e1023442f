package syncengine

import (
	"context"
	"sync"

	"chat-sync/internal/apperr"
	"chat-sync/internal/outbox"
)

// mutation is one optimistic change. capture, apply and restore run under
// the engine lock; persist runs without it.
type mutation[T any] struct {
	capture func() T
	apply   func()
	restore func(T)
	persist func(ctx context.Context) error
}

// applyOptimistic snapshots, applies in memory, then persists locally. A
// persist failure restores the snapshot and is returned; the caller must
// not contact the server in that case. Unavailable storage is not a
// failure: the engine then runs from memory alone.
func applyOptimistic[T any](ctx context.Context, e *Engine, m mutation[T]) error {
	e.mu.Lock()
	prev := m.capture()
	m.apply()
	e.mu.Unlock()

	err := m.persist(ctx)
	if err == nil || apperr.Is(err, apperr.KindStorageUnavailable) {
		return nil
	}

	e.mu.Lock()
	m.restore(prev)
	e.mu.Unlock()
	e.log.Warn("local write failed, change rolled back", "err", err)
	return err
}

// job is a background server call. Jobs with an op are queued in the
// outbox when they fail.
type job struct {
	op             outbox.Op
	conversationID string
	targetID       string
	payload        any
	run            func(ctx context.Context) error
}

// writer runs jobs one at a time in submission order, so writes to the
// same entity reach the server in the order they were made.
type writer struct {
	run  func(job)
	jobs chan job
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

func newWriter(run func(job)) *writer {
	w := &writer{run: run, jobs: make(chan job, 256), done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

func (w *writer) loop() {
	defer close(w.done)
	for j := range w.jobs {
		w.run(j)
		w.mu.Lock()
		w.pending--
		if w.pending == 0 {
			w.cond.Broadcast()
		}
		w.mu.Unlock()
	}
}

// submit returns false once the writer is closed.
func (w *writer) submit(j job) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.pending++
	w.mu.Unlock()
	w.jobs <- j
	return true
}

func (w *writer) wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending > 0 {
		w.cond.Wait()
	}
}

func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.wait()
	close(w.jobs)
	<-w.done
}

// send queues a fire-and-forget server write.
func (e *Engine) send(j job) {
	if e.remote == nil {
		e.park(j, apperr.New(apperr.KindUpstreamUnavailable, "no server configured"))
		return
	}
	if !e.writer.submit(j) {
		e.park(j, apperr.New(apperr.KindUpstreamUnavailable, "engine closed"))
	}
}

func (e *Engine) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	err := j.run(ctx)
	if err == nil {
		return
	}
	if permanent(err) {
		e.log.Warn("server rejected write", "op", j.op, "id", j.targetID, "err", err)
		return
	}
	e.log.Warn("server write failed", "op", j.op, "id", j.targetID, "err", err)
	e.park(j, err)
}

// park queues a failed job in the outbox, if there is one.
func (e *Engine) park(j job, cause error) {
	if e.outbox == nil || j.op == "" {
		return
	}
	if _, err := e.outbox.Add(j.op, j.conversationID, j.targetID, j.payload); err != nil {
		e.log.Error("outbox add failed", "op", j.op, "id", j.targetID, "cause", cause, "err", err)
	}
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindInvalidState, apperr.KindInvalidInput:
		return true
	}
	return false
}
