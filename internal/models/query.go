package models

import "time"

// NearestQuery selects stations around a point
type NearestQuery struct {
	Lat      float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon      float64   `json:"lon" validate:"gte=-180,lte=180"`
	RadiusKm float64   `json:"radius" validate:"gt=0,lte=100"`
	Fuel     *FuelType `json:"fuel_type,omitempty"`
	Limit    int       `json:"limit" validate:"gte=0,lte=50"`
}

// PriceInfo is a current price attached to a station result
type PriceInfo struct {
	FuelType   FuelType  `json:"fuel_type"`
	Price      float64   `json:"price"`
	UpdateDate time.Time `json:"update_date"`
}

// StationResult is one row of a nearest-stations answer
type StationResult struct {
	ID         string      `json:"id"`
	Address    string      `json:"address"`
	City       string      `json:"city"`
	PostalCode string      `json:"cp"`
	Latitude   float64     `json:"latitude"`
	Longitude  float64     `json:"longitude"`
	Distance   float64     `json:"distance"`
	Prices     []PriceInfo `json:"prices"`
}
