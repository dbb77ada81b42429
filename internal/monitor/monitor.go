package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/rigstream/pkg/core"
)

const DefaultInterval = 5 * time.Second

// FrameCounter reports good and dropped frame totals.
type FrameCounter interface {
	Frames() (good, dropped uint64)
}

// StatsRecorder persists tick stats, usually a storage backend.
type StatsRecorder interface {
	RecordTickStats(s *core.TickStats) error
}

// TickWriter forwards tick stats to a time-series sink.
type TickWriter interface {
	WriteTick(s core.TickStats, runKey string) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Frames     FrameCounter
	Recorder   StatsRecorder
	Influx     TickWriter
	RunKey     string
	StatusFile string
	Interval   time.Duration
}

// Status is what the status file holds.
type Status struct {
	Time          time.Time `json:"time"`
	Run           string    `json:"run"`
	Tick          uint64    `json:"tick"`
	FPS           float64   `json:"fps"`
	GoodFrames    uint64    `json:"goodFrames"`
	DroppedFrames uint64    `json:"droppedFrames"`
	Sessions      int       `json:"sessions"`
	BytesSent     int64     `json:"bytesSent"`
	Blocked       int       `json:"blocked"`
	Malformed     int       `json:"malformed"`
	RigErrors     int       `json:"rigErrors"`
}

// Service samples tick stats and writes them out on an interval.
type Service struct {
	deps Dependencies

	mu        sync.RWMutex
	latest    core.TickStats
	observed  bool
	bytes     int64
	blocked   int
	malformed int
	rigErrors int
	isRunning bool
	stopChan  chan struct{}

	// serializes Flush; recorded is the last tick written out
	flushMu  sync.Mutex
	recorded uint64
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// Observe takes one tick's stats. Totals accumulate over the run.
func (s *Service) Observe(stats core.TickStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = stats
	s.observed = true
	s.bytes += stats.Bytes
	s.blocked += stats.Blocked
	s.malformed += stats.Malformed
	s.rigErrors += stats.RigErrors
}

// Status returns the current snapshot.
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Time:      time.Now().UTC(),
		Run:       s.deps.RunKey,
		Tick:      s.latest.Tick,
		FPS:       s.latest.FPS,
		Sessions:  s.latest.Sessions,
		BytesSent: s.bytes,
		Blocked:   s.blocked,
		Malformed: s.malformed,
		RigErrors: s.rigErrors,
	}
	s.mu.RUnlock()

	if s.deps.Frames != nil {
		st.GoodFrames, st.DroppedFrames = s.deps.Frames.Frames()
	}
	return st
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Flush writes the status file and records the latest tick stats. A tick
// is recorded once, however often Flush runs.
func (s *Service) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.writeStatusFile(s.Status()); err != nil {
		return err
	}

	s.mu.RLock()
	latest, observed := s.latest, s.observed
	s.mu.RUnlock()
	if !observed || latest.Tick == s.recorded {
		return nil
	}

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordTickStats(&latest); err != nil {
			return fmt.Errorf("recording tick stats: %w", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WriteTick(latest, s.deps.RunKey); err != nil {
			return fmt.Errorf("writing tick point: %w", err)
		}
	}
	s.recorded = latest.Tick
	return nil
}

func (s *Service) writeStatusFile(st Status) error {
	if s.deps.StatusFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0o755); err != nil {
		return fmt.Errorf("creating status dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return os.Rename(tmp, s.deps.StatusFile)
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval, "file", s.deps.StatusFile)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := s.Flush(); err != nil {
					logger.Error("Final status flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.Flush(); err != nil {
					logger.Error("Status flush failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the status monitor and waits for its last flush.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.isRunning = false
	s.mu.Unlock()

	close(stop)
	<-done
}
