package geo

import (
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// SphereRadius is the earth radius in metres used by PostGIS
// ST_DistanceSphere. Both stores measure on this sphere so that a radius
// boundary answers the same way everywhere.
const SphereRadius = 6370986.0

// Distance returns the great-circle distance between a and b in metres
func Distance(a, b models.Point) float64 {
	d := orbgeo.Distance(orb.Point{a.Lon, a.Lat}, orb.Point{b.Lon, b.Lat})
	return d / orb.EarthRadius * SphereRadius
}

// Within reports whether p lies at most radiusMeters from center. The
// boundary is inclusive.
func Within(center, p models.Point, radiusMeters float64) bool {
	return Distance(center, p) <= radiusMeters
}
