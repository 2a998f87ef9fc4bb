package geo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

const (
	// DefaultRadiusKm applies when a query names no radius
	DefaultRadiusKm = 10
	// MaxResults caps every answer
	MaxResults = 50
)

// Finder runs spatial queries against storage
type Finder interface {
	NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error)
}

// Service validates and runs nearest-station queries
type Service struct {
	finder   Finder
	validate *validator.Validate
}

// NewService creates a geo service over f
func NewService(f Finder) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	return &Service{finder: f, validate: v}
}

// NearestStations returns stations within q.RadiusKm of (q.Lat, q.Lon). With a
// fuel filter results are ordered by that fuel's price, otherwise by distance.
func (s *Service) NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error) {
	if q.RadiusKm == 0 {
		q.RadiusKm = DefaultRadiusKm
	}
	if q.Limit == 0 {
		q.Limit = MaxResults
	}
	if err := s.check(q); err != nil {
		return nil, err
	}

	results, err := s.finder.NearestStations(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("nearest stations: %w", err)
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *Service) check(q models.NearestQuery) error {
	if err := s.validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())}
		}
		return apperrors.ValidationError{Field: "query", Message: err.Error()}
	}
	if q.Fuel != nil && !q.Fuel.Valid() {
		return apperrors.ValidationError{Field: "fuel_type", Message: fmt.Sprintf("unknown fuel type %q", *q.Fuel)}
	}
	return nil
}
