// Package queue buffers canonical events produced before the pipeline is ready and
// hands them, in enqueue order, to a single processing function once it is.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetree/sdk/internal/telemetry/domain"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrAlreadyFlushed is returned by a second Flush.
	ErrAlreadyFlushed = errors.New("queue: already flushed")
)

// Mode is the lifecycle phase of a Queue.
type Mode int

const (
	// ModeBuffering holds every pushed entry until Flush.
	ModeBuffering Mode = iota
	// ModeDraining is set while Flush consumes the backlog; pushes land behind the drain position.
	ModeDraining
	// ModePassThrough hands pushed entries to the dispatcher goroutine.
	ModePassThrough
	// ModeClosed rejects pushes.
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeBuffering:
		return "buffering"
	case ModeDraining:
		return "draining"
	case ModePassThrough:
		return "pass-through"
	case ModeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Entry wraps an event with its queue metadata.
type Entry struct {
	ID         uuid.UUID
	Seq        uint64
	EnqueuedAt time.Time
	Event      domain.Event
}

// ProcessFunc delivers one entry. It must not panic; failures are the callee's to log.
type ProcessFunc func(ctx context.Context, entry Entry)

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now for EnqueuedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is a FIFO with one writer side (Push) and exactly one consumer at a time:
// Flush while draining the backlog, then the dispatcher goroutine.
type Queue struct {
	process ProcessFunc
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	mode    Mode
	seq     uint64
	entries []Entry
	flushed bool

	wake    chan struct{}
	stopped chan struct{}
}

// New creates a Queue in ModeBuffering.
func New(process ProcessFunc, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		process: process,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		mode:    ModeBuffering,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues ev and returns the entry that wraps it. It never waits on delivery.
func (q *Queue) Push(ev domain.Event) (Entry, error) {
	q.mu.Lock()
	if q.mode == ModeClosed {
		q.mu.Unlock()
		return Entry{}, ErrClosed
	}
	q.seq++
	e := Entry{ID: uuid.New(), Seq: q.seq, EnqueuedAt: q.now(), Event: ev}
	q.entries = append(q.entries, e)
	passThrough := q.mode == ModePassThrough
	q.mu.Unlock()

	if passThrough {
		q.signal()
	}
	return e, nil
}

// Flush drains the backlog in enqueue order, waiting for each process call before the
// next, then switches to pass-through and starts the dispatcher. Only the first call
// does anything.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		return ErrAlreadyFlushed
	}
	q.flushed = true
	if q.mode == ModeClosed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mode = ModeDraining
	q.mu.Unlock()

	for {
		e, ok, closed := q.pop()
		if ok {
			q.process(ctx, e)
			continue
		}
		if closed {
			close(q.stopped)
			return nil
		}
		break
	}
	go q.dispatch()
	return nil
}

// pop removes the head entry. When the queue is empty and still draining it moves to
// pass-through under the same lock, so a concurrent Push is either popped here or
// handed to the dispatcher, never both.
func (q *Queue) pop() (Entry, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		if q.mode == ModeClosed {
			return Entry{}, false, true
		}
		if q.mode == ModeDraining {
			q.mode = ModePassThrough
		}
		return Entry{}, false, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	return e, true, false
}

func (q *Queue) dispatch() {
	defer close(q.stopped)
	for {
		e, ok, closed := q.pop()
		if ok {
			q.process(q.ctx, e)
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of entries waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Mode returns the current lifecycle phase.
func (q *Queue) Mode() Mode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// Close rejects further pushes. After a flush it waits for the consumer to deliver what
// is pending, cancelling in-flight work if ctx expires first. Before a flush nothing is
// delivered and the backlog stays in place; Close returns at once.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.mode == ModeClosed {
		q.mu.Unlock()
		return nil
	}
	prev := q.mode
	q.mode = ModeClosed
	q.mu.Unlock()

	if prev == ModeBuffering {
		q.cancel()
		return nil
	}
	q.signal()
	select {
	case <-q.stopped:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
