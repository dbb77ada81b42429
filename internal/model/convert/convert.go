// Package convert maps core records onto GORM models.
package convert

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/OCAP2/rigstream/internal/geo"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/OCAP2/rigstream/pkg/core"
	"gorm.io/datatypes"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func CoreToRun(r core.Run) model.Run {
	return model.Run{
		ID:        r.ID,
		RunKey:    r.Key,
		Host:      r.Host,
		TickRate:  r.TickRate,
		StartedAt: r.StartedAt,
		EndedAt:   nullTime(r.EndedAt),
	}
}

func CoreToSession(s core.Session, runID uint) model.ViewerSession {
	return model.ViewerSession{
		ID:             s.ID,
		RunID:          runID,
		SessionKey:     s.Key,
		UID:            s.UID,
		Addr:           s.Addr,
		ConnectedAt:    s.ConnectedAt,
		DisconnectedAt: nullTime(s.DisconnectedAt),
		BytesSent:      s.BytesSent,
	}
}

func CoreToJointEvent(e core.JointEvent, runID uint) model.JointEvent {
	return model.JointEvent{
		Time:    e.Time,
		RunID:   runID,
		Tick:    e.Tick,
		Rig:     e.Rig,
		Segment: e.Segment,
		Joint:   e.Joint,
		State:   e.State,
		Stress:  float32(e.Stress),
	}
}

// CoreToRigSample projects the sample's positions through origin. When
// withSpine is false the spine column is left empty.
func CoreToRigSample(s core.RigSample, runID uint, origin geo.Origin, withSpine bool) model.RigSample {
	m := model.RigSample{
		Time:   s.Time,
		RunID:  runID,
		Tick:   s.Tick,
		Rig:    s.Rig,
		Kind:   s.Kind,
		State:  s.State,
		Root:   origin.Point(s.Root),
		Head:   origin.Point(s.Head),
		Broken: s.Broken,
		LonLat: datatypes.JSON("null"),
	}
	if withSpine {
		m.Spine = origin.LineString(s.Spine).AsGeometry()
	} else {
		m.Spine = origin.LineString(nil).AsGeometry()
	}
	if origin.Enabled() {
		lon, lat := origin.LonLat(s.Root)
		if b, err := json.Marshal(map[string]float64{"lon": lon, "lat": lat}); err == nil {
			m.LonLat = datatypes.JSON(b)
		}
	}
	return m
}

func CoreToTickStat(s core.TickStats, runID uint) model.TickStat {
	return model.TickStat{
		Time:      s.Time,
		RunID:     runID,
		Tick:      s.Tick,
		FPS:       float32(s.FPS),
		Dropped:   s.Dropped,
		Sessions:  s.Sessions,
		Sent:      s.Sent,
		Blocked:   s.Blocked,
		Bytes:     s.Bytes,
		Malformed: s.Malformed,
		RigErrors: s.RigErrors,
	}
}
