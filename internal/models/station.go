package models

import "time"

// Point is a WGS84 coordinate in degrees
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Station is a fuel retail point
type Station struct {
	ID         string `json:"id" db:"id"`
	Location   *Point `json:"location,omitempty" db:"location"`
	Address    string `json:"address" db:"address"`
	City       string `json:"city" db:"city"`
	PostalCode string `json:"cp" db:"cp"`
}

// Price is one (station, fuel) observation. It is the row shape of both the
// current price table and the append-only price history.
type Price struct {
	StationID string    `json:"station_id" db:"station_id"`
	FuelType  FuelType  `json:"fuel_type" db:"fuel_type"`
	Price     float64   `json:"price" db:"price"`
	UpdatedAt time.Time `json:"update_date" db:"update_date"`
}

// PriceKey identifies a current price row
type PriceKey struct {
	StationID string
	FuelType  FuelType
}

// Key returns the (station, fuel) key of p
func (p Price) Key() PriceKey {
	return PriceKey{StationID: p.StationID, FuelType: p.FuelType}
}

// HistoryKey identifies a price history row
type HistoryKey struct {
	StationID string
	FuelType  FuelType
	UpdatedAt time.Time
}

// HistoryKey returns the (station, fuel, timestamp) key of p
func (p Price) HistoryKey() HistoryKey {
	return HistoryKey{StationID: p.StationID, FuelType: p.FuelType, UpdatedAt: p.UpdatedAt.UTC()}
}

// PricePoint is one sample of a price series
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}
