// Package recorder forwards relay lifecycle notifications to external stores
// without blocking the signaling path.
package recorder

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

type Kind string

const (
	ConnectionOpened   Kind = "connection_opened"
	ConnectionClosed   Kind = "connection_closed"
	CallStarted        Kind = "call_started"
	CallEnded          Kind = "call_ended"
	AgentStatusChanged Kind = "agent_status_changed"
)

const (
	queueSize    = 512
	writeTimeout = 5 * time.Second
)

type Event struct {
	Kind         Kind
	UserId       string
	Role         string
	TenantId     string
	SessionId    string
	CallId       string
	RoomId       string
	CallType     string
	Reason       string
	Status       string
	Availability string
	At           time.Time
}

// Recorder accepts notifications. Record must not block.
type Recorder interface {
	Record(ev Event)
}

// Sink is a destination the Async recorder writes to.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

type Nop struct{}

func (Nop) Record(Event) {}

// Async queues events and writes them to every sink from one goroutine.
// Each write is bounded by a timeout. Events are dropped when the queue is
// full or the recorder is closed.
type Async struct {
	log     *log.Logger
	sinks   []Sink
	events  chan Event
	done    chan struct{}
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	running bool
}

func NewAsync(logger *log.Logger, sinks ...Sink) *Async {
	return &Async{
		log:     logger,
		sinks:   sinks,
		events:  make(chan Event, queueSize),
		done:    make(chan struct{}),
		timeout: writeTimeout,
	}
}

func (a *Async) Run() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running || a.closed {
		return
	}
	a.running = true
	go a.drain()
}

func (a *Async) drain() {
	defer close(a.done)

	for ev := range a.events {
		for _, s := range a.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := s.Write(ctx, ev); err != nil {
				a.log.Printf("recorder: write %s for %q: %v", ev.Kind, ev.UserId, err)
			}
			cancel()
		}
	}
}

func (a *Async) Record(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	select {
	case a.events <- ev:
	default:
		a.log.Printf("recorder: queue full, dropping %s for %q", ev.Kind, ev.UserId)
	}
}

// Close flushes queued events and closes every sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	running := a.running
	a.mu.Unlock()

	if running {
		<-a.done
	}

	var errs []error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
