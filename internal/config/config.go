// Package config loads rigstream settings from a JSON file, an optional
// .env file and RIGSTREAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file searched for in the config directory.
const FileName = "rigstream.cfg.json"

// EnvPrefix prefixes every environment override, e.g. RIGSTREAM_SERVER_HTTPADDR.
const EnvPrefix = "RIGSTREAM"

// ServerConfig holds listener and tick loop settings.
type ServerConfig struct {
	ViewerAddr   string        `json:"viewerAddr" mapstructure:"viewerAddr"`
	HTTPAddr     string        `json:"httpAddr" mapstructure:"httpAddr"`
	PollTimeout  time.Duration `json:"pollTimeout" mapstructure:"pollTimeout"`
	TickRate     int           `json:"tickRate" mapstructure:"tickRate"`
	FPSFloor     float64       `json:"fpsFloor" mapstructure:"fpsFloor"`
	QueuePolicy  string        `json:"queuePolicy" mapstructure:"queuePolicy"`
	PeerBasePort int           `json:"peerBasePort" mapstructure:"peerBasePort"`
	AssetsDir    string        `json:"assetsDir" mapstructure:"assetsDir"`
}

// CameraConfig holds the depth of field defaults of new sessions.
type CameraConfig struct {
	Rand     bool    `json:"rand" mapstructure:"rand"`
	Focus    float64 `json:"focus" mapstructure:"focus"`
	Aperture float64 `json:"aperture" mapstructure:"aperture"`
	MaxBlur  float64 `json:"maxblur" mapstructure:"maxblur"`
}

// StreamingConfig holds viewer streaming settings.
type StreamingConfig struct {
	MaxDistance float64      `json:"maxDistance" mapstructure:"maxDistance"`
	MaxVerts    int          `json:"maxVerts" mapstructure:"maxVerts"`
	Precision   int          `json:"precision" mapstructure:"precision"`
	Godrays     bool         `json:"godrays" mapstructure:"godrays"`
	Camera      CameraConfig `json:"camera" mapstructure:"camera"`
}

// RigConfig holds rig construction defaults.
type RigConfig struct {
	Kind            string   `json:"kind" mapstructure:"kind"`
	Humanoids       []string `json:"humanoids" mapstructure:"humanoids"`
	Breakable       bool     `json:"breakable" mapstructure:"breakable"`
	BreakThreshold  float64  `json:"breakThreshold" mapstructure:"breakThreshold"`
	DamageThreshold float64  `json:"damageThreshold" mapstructure:"damageThreshold"`
	CFM             float64  `json:"cfm" mapstructure:"cfm"`
	ERP             float64  `json:"erp" mapstructure:"erp"`
	Stretch         bool     `json:"stretch" mapstructure:"stretch"`
	HybridIK        bool     `json:"hybridIK" mapstructure:"hybridIK"`
	Gravity         bool     `json:"gravity" mapstructure:"gravity"`
	Collision       bool     `json:"collision" mapstructure:"collision"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	OutputDir    string        `json:"outputDir" mapstructure:"outputDir"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds PostgreSQL storage backend settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// StorageConfig selects and configures the recording backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds time-series metrics settings.
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// LoggingConfig holds log sinks.
type LoggingConfig struct {
	Level       string `json:"level" mapstructure:"level"`
	Dir         string `json:"dir" mapstructure:"dir"`
	GELFAddress string `json:"gelfAddress" mapstructure:"gelfAddress"`
}

// GeoConfig geo-references the scene origin.
type GeoConfig struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled"`
	Lat     float64 `json:"lat" mapstructure:"lat"`
	Lon     float64 `json:"lon" mapstructure:"lon"`
}

// MonitorConfig holds the status file settings.
type MonitorConfig struct {
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
}

func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.dir", "./logs")
	viper.SetDefault("logging.gelfAddress", "")

	viper.SetDefault("server.viewerAddr", ":8081")
	viper.SetDefault("server.httpAddr", ":8080")
	viper.SetDefault("server.pollTimeout", "500ms")
	viper.SetDefault("server.tickRate", 60)
	viper.SetDefault("server.fpsFloor", 15.0)
	viper.SetDefault("server.queuePolicy", "drop")
	viper.SetDefault("server.peerBasePort", 8180)
	viper.SetDefault("server.assetsDir", "./assets")

	viper.SetDefault("streaming.maxDistance", 20.0)
	viper.SetDefault("streaming.maxVerts", 2000)
	viper.SetDefault("streaming.precision", 3)
	viper.SetDefault("streaming.godrays", false)
	viper.SetDefault("streaming.camera.rand", false)
	viper.SetDefault("streaming.camera.focus", 1.5)
	viper.SetDefault("streaming.camera.aperture", 0.15)
	viper.SetDefault("streaming.camera.maxblur", 1.0)

	viper.SetDefault("rig.kind", "biped")
	viper.SetDefault("rig.humanoids", []string{"hero"})
	viper.SetDefault("rig.breakable", false)
	viper.SetDefault("rig.breakThreshold", 0.0)
	viper.SetDefault("rig.damageThreshold", 0.0)
	viper.SetDefault("rig.cfm", 0.05)
	viper.SetDefault("rig.erp", 0.85)
	viper.SetDefault("rig.stretch", false)
	viper.SetDefault("rig.hybridIK", false)
	viper.SetDefault("rig.gravity", true)
	viper.SetDefault("rig.collision", true)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.outputDir", "./recordings")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "rigstream")
	viper.SetDefault("storage.postgres.sslmode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "rigstream")
	viper.SetDefault("influx.bucket", "rigstream")
	viper.SetDefault("influx.backupDir", "./logs")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rigstream")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("geo.enabled", false)
	viper.SetDefault("geo.lat", 0.0)
	viper.SetDefault("geo.lon", 0.0)

	viper.SetDefault("monitor.statusFile", "status.json")
	viper.SetDefault("monitor.interval", "5s")
}

// Load sets default values, reads the optional .env file and the JSON
// config file from configDir, and enables environment overrides. A missing
// file is not an error; a malformed one is.
func Load(configDir string) error {
	setDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading env file: %w", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetServerConfig() ServerConfig {
	return ServerConfig{
		ViewerAddr:   viper.GetString("server.viewerAddr"),
		HTTPAddr:     viper.GetString("server.httpAddr"),
		PollTimeout:  viper.GetDuration("server.pollTimeout"),
		TickRate:     viper.GetInt("server.tickRate"),
		FPSFloor:     viper.GetFloat64("server.fpsFloor"),
		QueuePolicy:  viper.GetString("server.queuePolicy"),
		PeerBasePort: viper.GetInt("server.peerBasePort"),
		AssetsDir:    viper.GetString("server.assetsDir"),
	}
}

func GetStreamingConfig() StreamingConfig {
	return StreamingConfig{
		MaxDistance: viper.GetFloat64("streaming.maxDistance"),
		MaxVerts:    viper.GetInt("streaming.maxVerts"),
		Precision:   viper.GetInt("streaming.precision"),
		Godrays:     viper.GetBool("streaming.godrays"),
		Camera: CameraConfig{
			Rand:     viper.GetBool("streaming.camera.rand"),
			Focus:    viper.GetFloat64("streaming.camera.focus"),
			Aperture: viper.GetFloat64("streaming.camera.aperture"),
			MaxBlur:  viper.GetFloat64("streaming.camera.maxblur"),
		},
	}
}

func GetRigConfig() RigConfig {
	return RigConfig{
		Kind:            viper.GetString("rig.kind"),
		Humanoids:       viper.GetStringSlice("rig.humanoids"),
		Breakable:       viper.GetBool("rig.breakable"),
		BreakThreshold:  viper.GetFloat64("rig.breakThreshold"),
		DamageThreshold: viper.GetFloat64("rig.damageThreshold"),
		CFM:             viper.GetFloat64("rig.cfm"),
		ERP:             viper.GetFloat64("rig.erp"),
		Stretch:         viper.GetBool("rig.stretch"),
		HybridIK:        viper.GetBool("rig.hybridIK"),
		Gravity:         viper.GetBool("rig.gravity"),
		Collision:       viper.GetBool("rig.collision"),
	}
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslmode"),
		},
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:       viper.GetString("logging.level"),
		Dir:         viper.GetString("logging.dir"),
		GELFAddress: viper.GetString("logging.gelfAddress"),
	}
}

func GetGeoConfig() GeoConfig {
	return GeoConfig{
		Enabled: viper.GetBool("geo.enabled"),
		Lat:     viper.GetFloat64("geo.lat"),
		Lon:     viper.GetFloat64("geo.lon"),
	}
}

func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
}

// Unmarshal decodes the subtree under key into out, leaving fields the
// subtree does not mention untouched.
func Unmarshal(key string, out any) error {
	if !viper.IsSet(key) {
		return nil
	}
	if err := viper.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
