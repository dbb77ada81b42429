package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/OCAP2/rigstream/internal/queue"
	ws "github.com/gorilla/websocket"
)

// DefaultPollTimeout bounds how long the accept loop waits before checking
// whether the listener was stopped.
const DefaultPollTimeout = 500 * time.Millisecond

// ListenerConfig configures the viewer listener.
type ListenerConfig struct {
	Addr        string
	PollTimeout time.Duration
	Policy      QueuePolicy
}

// Listener accepts viewer websockets on its own goroutine and hands them to
// the simulation goroutine through a queue.
type Listener struct {
	cfg      ListenerConfig
	upgrader ws.Upgrader
	accepted *queue.Queue[*Conn]
	active   atomic.Bool

	ln     *pollingListener
	srv    *http.Server
	served chan struct{}

	logger *slog.Logger
}

// NewListener creates a stopped listener.
func NewListener(cfg ListenerConfig, logger *slog.Logger) *Listener {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		cfg: cfg,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		accepted: queue.New[*Conn](),
		logger:   logger,
	}
}

// Start binds the address and begins accepting.
func (l *Listener) Start() error {
	tcp, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Addr, err)
	}
	l.active.Store(true)
	l.ln = &pollingListener{Listener: tcp, poll: l.cfg.PollTimeout, active: &l.active}
	l.srv = &http.Server{Handler: l, ReadHeaderTimeout: 5 * time.Second}
	l.served = make(chan struct{})

	go func() {
		defer close(l.served)
		if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("Viewer listener stopped", "error", err)
		}
	}()
	l.logger.Info("Viewer listener started", "addr", l.Addr(), "policy", l.cfg.Policy.String())
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.cfg.Addr
	}
	return l.ln.Addr().String()
}

// Active reports whether the accept loop is running.
func (l *Listener) Active() bool { return l.active.Load() }

// ServeHTTP upgrades a viewer request and queues the connection.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.active.Load() {
		http.Error(w, "listener stopped", http.StatusServiceUnavailable)
		return
	}
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	l.enqueue(newConn(c, l.cfg.Policy, l.logger))
}

// enqueue queues conn for Accepted. A conn that lands after Stop drained
// the queue is closed here instead.
func (l *Listener) enqueue(conn *Conn) {
	l.accepted.Push(conn)
	if l.active.Load() {
		return
	}
	for _, c := range l.accepted.Drain() {
		_ = c.Close()
	}
}

// Accepted returns the connections accepted since the last call.
func (l *Listener) Accepted() []*Conn {
	return l.accepted.Drain()
}

// Stop clears the active flag and waits for the accept loop to notice,
// bounded by ctx. Connections never collected by Accepted are closed.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.active.Swap(false) {
		return nil
	}
	var err error
	select {
	case <-l.served:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := l.srv.Close(); cerr != nil && err == nil {
		err = cerr
	}
	for _, c := range l.accepted.Drain() {
		_ = c.Close()
	}
	l.logger.Info("Viewer listener stopped")
	return err
}

// pollingListener wakes up every poll interval to check the active flag.
type pollingListener struct {
	net.Listener
	poll   time.Duration
	active *atomic.Bool
}

type deadliner interface {
	SetDeadline(time.Time) error
}

func (p *pollingListener) Accept() (net.Conn, error) {
	for {
		if !p.active.Load() {
			_ = p.Listener.Close()
			return nil, net.ErrClosed
		}
		if d, ok := p.Listener.(deadliner); ok {
			if err := d.SetDeadline(time.Now().Add(p.poll)); err != nil {
				return nil, err
			}
		}
		c, err := p.Listener.Accept()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		return c, err
	}
}
