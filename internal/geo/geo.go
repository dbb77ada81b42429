// Package geo projects scene meters onto web mercator so recorded rig
// positions can be stored as spatial columns and plotted on a map.
package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/OCAP2/rigstream/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Points are always stored as EPSG:3857 so SQLite, which has no spatial
// awareness, can still decode them from WKB.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Origin anchors the scene origin at a longitude/latitude. The zero value
// leaves scene meters unprojected.
type Origin struct {
	Lon, Lat float64
	x, y     float64
	enabled  bool
}

// NewOrigin places scene (0,0) at lon/lat.
func NewOrigin(lon, lat float64) Origin {
	x, y, _ := wgs84.EPSG().Transform(4326, 3857)(lon, lat, 0)
	return Origin{Lon: lon, Lat: lat, x: x, y: y, enabled: true}
}

// Enabled reports whether the origin projects points.
func (o Origin) Enabled() bool { return o.enabled }

// Project returns the mercator x/y of a scene position.
func (o Origin) Project(p core.Position3D) (x, y float64) {
	return o.x + p.X, o.y + p.Y
}

// Point converts a scene position into an XYZ point.
func (o Origin) Point(p core.Position3D) geom.Point {
	x, y := o.Project(p)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    p.Z,
		Type: geom.DimXYZ,
	})
}

// LonLat converts a scene position back to WGS84.
func (o Origin) LonLat(p core.Position3D) (lon, lat float64) {
	x, y := o.Project(p)
	lon, lat, _ = wgs84.EPSG().Transform(3857, 4326)(x, y, 0)
	return lon, lat
}

// LineString converts a chain of scene positions into an XYZ line. Fewer
// than two positions yield an empty line.
func (o Origin) LineString(ps []core.Position3D) geom.LineString {
	if len(ps) < 2 {
		return geom.NewLineString(geom.NewSequence(nil, geom.DimXYZ))
	}
	flat := make([]float64, 0, len(ps)*3)
	for _, p := range ps {
		x, y := o.Project(p)
		flat = append(flat, x, y, p.Z)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXYZ))
}

// Position3DFromString parses "x,y" or "x,y,z".
func Position3DFromString(coords string) (core.Position3D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	var v [3]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
		v[i] = f
	}
	return core.Position3D{X: v[0], Y: v[1], Z: v[2]}, nil
}
