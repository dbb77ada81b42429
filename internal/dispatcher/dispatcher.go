// Package dispatcher routes viewer action frames to handlers by action code.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/OCAP2/rigstream/internal/stream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownAction is returned for action codes with no handler.
var ErrUnknownAction = errors.New("unknown action")

// ErrQueueFull is returned when a buffered handler drops an event.
var ErrQueueFull = errors.New("queue full")

// Event is one action sent by a viewer.
type Event struct {
	Code      byte
	Args      []byte
	Session   uint64
	Addr      string
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered runs the handler on its own goroutine behind a queue of the
// given size. Buffered handlers must not touch simulation state.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[byte]HandlerFunc
	logger   Logger
	now      func() time.Time

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu      sync.RWMutex
	buffers map[byte]chan Event
}

var _ stream.ActionDispatcher = (*Dispatcher)(nil)

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[byte]HandlerFunc),
		buffers:  make(map[byte]chan Event),
		logger:   logger,
		now:      time.Now,
	}

	m := otel.Meter("github.com/OCAP2/rigstream/internal/dispatcher")

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of actions in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for code, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(codeAttr(code)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total actions processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total actions dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

func codeAttr(code byte) attribute.KeyValue {
	return attribute.String("action", string(rune(code)))
}

// Register adds a handler for the given action code with optional configuration.
// A later registration replaces an earlier one.
func (d *Dispatcher) Register(code byte, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(code, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged {
		handler = d.withLogging(code, handler)
	}

	d.handlers[code] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Code]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, e.Code)
	}
	if err := h(e); err != nil {
		return fmt.Errorf("action %q: %w", e.Code, err)
	}
	return nil
}

// DispatchAction builds an event from a session frame and dispatches it.
func (d *Dispatcher) DispatchAction(s *stream.Session, code byte, args []byte) error {
	return d.Dispatch(Event{
		Code:      code,
		Args:      args,
		Session:   s.UID,
		Addr:      s.Addr,
		Timestamp: d.now(),
	})
}

// HasHandler returns true if a handler is registered for the code.
func (d *Dispatcher) HasHandler(code byte) bool {
	_, ok := d.handlers[code]
	return ok
}

// Codes returns every registered action code in ascending order.
func (d *Dispatcher) Codes() []byte {
	out := make([]byte, 0, len(d.handlers))
	for c := range d.handlers {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (d *Dispatcher) withBuffer(code byte, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[code] = buffer
	d.mu.Unlock()

	attr := codeAttr(code)

	go func() {
		for e := range buffer {
			if err := h(e); err != nil {
				d.logger.Error("buffered action failed", "action", string(rune(code)), "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(attr))
		}
	}()

	if blocking {
		return func(e Event) error {
			buffer <- e
			return nil
		}
	}

	return func(e Event) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(attr))
			return ErrQueueFull
		}
	}
}

func (d *Dispatcher) withLogging(code byte, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling action", "action", string(rune(code)), "session", e.Session, "args", len(e.Args))

		err := h(e)

		if err != nil {
			d.logger.Error("action failed", "action", string(rune(code)), "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("action complete", "action", string(rune(code)), "duration", time.Since(start))
		}

		return err
	}
}
