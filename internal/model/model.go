// Package model holds the GORM schema recordings are written to.
package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every table, in migration order.
var DatabaseModels = []any{
	&ServerInfo{},
	&Run{},
	&ViewerSession{},
	&JointEvent{},
	&RigSample{},
	&TickStat{},
}

// ServerInfo describes the installation. One row is seeded on first setup.
type ServerInfo struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
	Website     string `json:"website" gorm:"size:255"`
}

func (*ServerInfo) TableName() string {
	return "server_infos"
}

// Run is one server lifetime.
type Run struct {
	ID        uint         `json:"id" gorm:"primarykey;autoIncrement;"`
	RunKey    string       `json:"runKey" gorm:"size:26;uniqueIndex"` // ULID
	Host      string       `json:"host" gorm:"size:128"`
	TickRate  int          `json:"tickRate"`
	StartedAt time.Time    `json:"startedAt" gorm:"type:timestamptz;"`
	EndedAt   sql.NullTime `json:"endedAt" gorm:"type:timestamptz;"`
}

func (*Run) TableName() string {
	return "runs"
}

// ViewerSession is one viewer connection within a run.
type ViewerSession struct {
	ID             uint         `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID          uint         `json:"runId" gorm:"index:idx_session_run_id"`
	Run            Run          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionKey     string       `json:"sessionKey" gorm:"size:26;uniqueIndex"`
	UID            uint64       `json:"uid"`
	Addr           string       `json:"addr" gorm:"size:64"`
	ConnectedAt    time.Time    `json:"connectedAt" gorm:"type:timestamptz;"`
	DisconnectedAt sql.NullTime `json:"disconnectedAt" gorm:"type:timestamptz;"`
	BytesSent      int64        `json:"bytesSent"`
}

func (*ViewerSession) TableName() string {
	return "viewer_sessions"
}

// JointEvent records a breakable joint changing state.
type JointEvent struct {
	ID      uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time    time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID   uint      `json:"runId" gorm:"index:idx_jointevent_run_id"`
	Run     Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick    uint64    `json:"tick" gorm:"index:idx_jointevent_tick"`
	Rig     string    `json:"rig" gorm:"size:64;index:idx_jointevent_rig"`
	Segment string    `json:"segment" gorm:"size:64"`
	Joint   string    `json:"joint" gorm:"size:128"`
	State   string    `json:"state" gorm:"size:16"` // intact, damaged, broken
	Stress  float32   `json:"stress"`
}

func (*JointEvent) TableName() string {
	return "joint_events"
}

// RigSample is a periodic rig snapshot. Root and Head are EPSG:3857 XYZ
// points; Spine is the segment chain as an XYZ line string.
type RigSample struct {
	ID     uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time   time.Time      `json:"time" gorm:"type:timestamptz;"`
	RunID  uint           `json:"runId" gorm:"index:idx_rigsample_run_id"`
	Run    Run            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick   uint64         `json:"tick" gorm:"index:idx_rigsample_tick"`
	Rig    string         `json:"rig" gorm:"size:64;index:idx_rigsample_rig"`
	Kind   string         `json:"kind" gorm:"size:16"`
	State  string         `json:"state" gorm:"size:32"`
	Root   geom.Point     `json:"root"`
	Head   geom.Point     `json:"head"`
	Spine  geom.Geometry  `json:"-"`
	Broken int            `json:"broken"`
	LonLat datatypes.JSON `json:"lonLat"` // {"lon":..,"lat":..} of the root when geo-referenced
}

func (*RigSample) TableName() string {
	return "rig_samples"
}

// TickStat summarizes one simulation tick.
type TickStat struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;index:idx_tickstat_time"`
	RunID     uint      `json:"runId" gorm:"index:idx_tickstat_run_id"`
	Run       Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick      uint64    `json:"tick"`
	FPS       float32   `json:"fps"`
	Dropped   bool      `json:"dropped"`
	Sessions  int       `json:"sessions"`
	Sent      int       `json:"sent"`
	Blocked   int       `json:"blocked"`
	Bytes     int64     `json:"bytes"`
	Malformed int       `json:"malformed"`
	RigErrors int       `json:"rigErrors"`
}

func (*TickStat) TableName() string {
	return "tick_stats"
}
