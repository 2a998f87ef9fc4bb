package feed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// CoordinateScale is the factor feed coordinates are multiplied by
const CoordinateScale = 100000

// timestampLayouts are tried in order. Zone-less layouts are read in the
// normalizer's location.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var (
	errUnknownLayout = errors.New("unrecognized timestamp layout")
	errNonPositive   = errors.New("price must be positive")
)

// Normalizer turns raw records into typed rows
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer reading zone-less timestamps in loc
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize converts rec into a station and its valid price observations.
// Invalid observations are dropped and reported as *errors.ParseFieldError.
// A station at exactly (0, 0) keeps a nil location.
func (n *Normalizer) Normalize(rec Record) (models.Station, []models.Price, []error) {
	st := models.Station{
		ID:         rec.ID,
		Address:    rec.Address,
		City:       rec.City,
		PostalCode: rec.PostalCode,
	}

	lat := rec.RawLatitude / CoordinateScale
	lon := rec.RawLongitude / CoordinateScale
	if lat != 0 || lon != 0 {
		st.Location = &models.Point{Lat: lat, Lon: lon}
	}

	var prices []models.Price
	var errs []error
	for _, raw := range rec.Prices {
		p, err := n.price(rec.ID, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prices = append(prices, p)
	}

	return st, prices, errs
}

func (n *Normalizer) price(stationID string, raw RawPrice) (models.Price, error) {
	fuel, err := models.ParseFuelType(raw.Name)
	if err != nil {
		return models.Price{}, &apperrors.ParseFieldError{StationID: stationID, Field: "nom", Value: raw.Name, Err: err}
	}

	value, err := strconv.ParseFloat(raw.Value, 64)
	if err != nil {
		return models.Price{}, &apperrors.ParseFieldError{StationID: stationID, Field: "valeur", Value: raw.Value, Err: err}
	}
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return models.Price{}, &apperrors.ParseFieldError{StationID: stationID, Field: "valeur", Value: raw.Value, Err: errNonPositive}
	}

	at, err := n.ParseTimestamp(raw.Updated)
	if err != nil {
		return models.Price{}, &apperrors.ParseFieldError{StationID: stationID, Field: "maj", Value: raw.Updated, Err: err}
	}

	return models.Price{
		StationID: stationID,
		FuelType:  fuel,
		Price:     value,
		UpdatedAt: at,
	}, nil
}

// ParseTimestamp reads a feed timestamp and returns it in UTC. A bare date is
// midnight in the normalizer's location.
func (n *Normalizer) ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errUnknownLayout
}
