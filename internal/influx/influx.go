// Package influx writes per-tick and per-session points to InfluxDB, falling
// back to a gzipped line-protocol file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/pkg/core"
)

const (
	MeasurementTick    = "tick"
	MeasurementSession = "session"

	retentionSeconds = 60 * 60 * 24 * 90
)

var (
	ErrDisabled  = errors.New("influx is disabled")
	ErrNoBackend = errors.New("influx client not connected and backup writer not available")
)

// Manager owns the InfluxDB client, or the backup file when the server is down.
type Manager struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	mu         sync.Mutex
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupFile *os.File
	backup     *gzip.Writer
	backupPath string
	valid      bool
}

// NewManager creates an unconnected manager. Backup files land in
// cfg.BackupDir, named after started.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, started time.Time) *Manager {
	dir := cfg.BackupDir
	if dir == "" {
		dir = "."
	}
	return &Manager{
		cfg:        cfg,
		logger:     log,
		backupPath: filepath.Join(dir, fmt.Sprintf("influx_backup_%s.lp.gz", started.UTC().Format("20060102_150405"))),
	}
}

// BackupPath is where points go when the server is unreachable.
func (m *Manager) BackupPath() string { return m.backupPath }

// Valid reports whether points go to a live server.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// Connect pings the server and prepares the bucket, or opens the backup
// file if the ping fails.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.valid = false
		m.client.Close()
		m.client = nil
		m.logger.Warn().Err(err).Str("backupPath", m.backupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())

	m.valid = true
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.backup != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.backupPath), 0o755); err != nil {
		return fmt.Errorf("error creating backup dir: %w", err)
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	if _, err := m.client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = m.client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

// TickPoint converts tick stats to a point.
func TickPoint(s core.TickStats, runKey string) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTick).
		AddTag("run", runKey).
		AddField("tick", s.Tick).
		AddField("fps", s.FPS).
		AddField("dropped", s.Dropped).
		AddField("sessions", s.Sessions).
		AddField("sent", s.Sent).
		AddField("blocked", s.Blocked).
		AddField("bytes", s.Bytes).
		AddField("malformed", s.Malformed).
		AddField("rig_errors", s.RigErrors).
		SetTime(s.Time)
	return p
}

// SessionPoint converts a finished (or started) session to a point.
func SessionPoint(s core.Session, runKey string) *influxdb2_write.Point {
	ts := s.ConnectedAt
	connected := s.DisconnectedAt.IsZero()
	if !connected {
		ts = s.DisconnectedAt
	}
	return influxdb2_write.NewPointWithMeasurement(MeasurementSession).
		AddTag("run", runKey).
		AddTag("session", s.Key).
		AddTag("addr", s.Addr).
		AddField("uid", s.UID).
		AddField("connected", connected).
		AddField("bytes_sent", s.BytesSent).
		SetTime(ts)
}

// WriteTick writes one tick point.
func (m *Manager) WriteTick(s core.TickStats, runKey string) error {
	return m.WritePoint(TickPoint(s, runKey))
}

// WriteSession writes one session point.
func (m *Manager) WriteSession(s core.Session, runKey string) error {
	return m.WritePoint(SessionPoint(s, runKey))
}

// WritePoint sends a point to the server or appends it to the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return ErrNoBackend
	}
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		m.writer.Flush()
		m.writer = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.valid = false

	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		m.backup = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}
