package store

import (
	"encoding/binary"
	"fmt"

	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const srid = 4326

// encodePoint renders p as EWKB for ST_GeomFromEWKB. A nil point encodes to
// nil, which pgx sends as NULL.
func encodePoint(p *models.Point) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(srid)
	b, err := ewkb.Marshal(pt, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode point: %w", err)
	}
	return b, nil
}

// decodePoint parses the output of ST_AsEWKB
func decodePoint(b []byte) (*models.Point, error) {
	if len(b) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("decode point: %w", err)
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, fmt.Errorf("decode point: got %T", g)
	}
	return &models.Point{Lat: pt.Y(), Lon: pt.X()}, nil
}
