package models

import "time"

// Trend classifies the direction of a price series
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Analysis summarises the trailing window of a (station, fuel) pair
type Analysis struct {
	StationID    string   `json:"station_id"`
	FuelType     FuelType `json:"fuel_type"`
	CurrentPrice float64  `json:"current_price"`
	Average      float64  `json:"average_30d"`
	Min          float64  `json:"min_30d"`
	Max          float64  `json:"max_30d"`
	Percentile   int      `json:"percentile"`
	Trend        Trend    `json:"trend"`
	Samples      int      `json:"samples"`
}

// RunStatus is the outcome of an ingestion run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunReport describes one ingestion run
type RunReport struct {
	RunID           string    `json:"run_id"`
	Feed            string    `json:"feed"`
	Status          RunStatus `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	Stations        int       `json:"stations"`
	StationsSkipped int       `json:"stations_skipped"`
	Observations    int       `json:"observations"`
	Changed         int       `json:"changed"`
	Unchanged       int       `json:"unchanged"`
	Rejected        int       `json:"rejected"`
	StationsWritten int       `json:"stations_written"`
	PricesWritten   int       `json:"prices_written"`
	HistoryWritten  int       `json:"history_written"`
	BatchesFailed   int       `json:"batches_failed"`
	RowsLost        int       `json:"rows_lost"`
	Error           string    `json:"error,omitempty"`
}
