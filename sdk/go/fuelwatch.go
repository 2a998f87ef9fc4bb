package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rajasatyajit/FuelWatch/internal/ingest"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// Client calls the FuelWatch HTTP API
type Client struct {
	BaseURL     string
	AdminSecret string
	HTTP        *http.Client
}

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Status     string `json:"error"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fuelwatch: HTTP %d: %s", e.StatusCode, e.Message)
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// StationsQuery mirrors the query parameters of GET /v1/stations
type StationsQuery struct {
	Lat, Lon float64
	RadiusKm float64
	Fuel     models.FuelType
	Limit    int
}

// NearestStations returns stations around a point, cheapest first when a fuel is given
func (c *Client) NearestStations(ctx context.Context, q StationsQuery) ([]models.StationResult, error) {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(q.Lon, 'f', -1, 64))
	if q.RadiusKm > 0 {
		v.Set("radius", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	}
	if q.Fuel != "" {
		v.Set("fuel_type", string(q.Fuel))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var out struct {
		Data []models.StationResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/stations?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Analysis returns the 30 day statistics of one station and fuel
func (c *Client) Analysis(ctx context.Context, stationID string, fuel models.FuelType) (*models.Analysis, error) {
	path := "/v1/stations/" + url.PathEscape(stationID) + "/analysis?fuel_type=" + url.QueryEscape(string(fuel))
	var out models.Analysis
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the price series of the last days, oldest first. days <= 0
// uses the server default.
func (c *Client) History(ctx context.Context, stationID string, fuel models.FuelType, days int) ([]models.PricePoint, error) {
	path := "/v1/stations/" + url.PathEscape(stationID) + "/history?fuel_type=" + url.QueryEscape(string(fuel))
	if days > 0 {
		path += "&days=" + strconv.Itoa(days)
	}
	var out struct {
		Data []models.PricePoint `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// IngestStatus returns the running and last finished ingestion runs
func (c *Client) IngestStatus(ctx context.Context) (*ingest.Status, error) {
	var out ingest.Status
	if err := c.do(ctx, http.MethodGet, "/v1/ingest/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerIngest asks the server to start a snapshot run. It needs AdminSecret.
func (c *Client) TriggerIngest(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/ingest", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.AdminSecret)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
