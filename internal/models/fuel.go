package models

import (
	"fmt"
	"strings"
)

// FuelType is one of the fuel codes published in the feed
type FuelType string

const (
	FuelGazole FuelType = "Gazole"
	FuelSP95   FuelType = "SP95"
	FuelSP98   FuelType = "SP98"
	FuelE10    FuelType = "E10"
	FuelE85    FuelType = "E85"
	FuelGPLc   FuelType = "GPLc"
)

// FuelTypes lists every recognized fuel code
var FuelTypes = []FuelType{FuelGazole, FuelSP95, FuelSP98, FuelE10, FuelE85, FuelGPLc}

// ParseFuelType maps a raw fuel name onto the closed FuelType set.
// Matching is exact first, then case-insensitive.
func ParseFuelType(s string) (FuelType, error) {
	s = strings.TrimSpace(s)
	for _, f := range FuelTypes {
		if string(f) == s {
			return f, nil
		}
	}
	for _, f := range FuelTypes {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown fuel type %q", s)
}

// Valid reports whether f belongs to the closed set
func (f FuelType) Valid() bool {
	for _, known := range FuelTypes {
		if f == known {
			return true
		}
	}
	return false
}

func (f FuelType) String() string { return string(f) }
