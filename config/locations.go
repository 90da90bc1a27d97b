package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/msoto/lettings-pipeline/models"
)

// locationsFile is the shape of the locations YAML file:
//
//	locations:
//	  - location_id: REGION^1244
//	    location_name: Islington
type locationsFile struct {
	Locations []models.Location `yaml:"locations" validate:"required,min=1,dive"`
}

// LoadLocations reads and validates the configured search locations,
// preserving file order.
func LoadLocations(path string) ([]models.Location, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	return ParseLocations(raw)
}

// ParseLocations parses locations from raw YAML bytes.
func ParseLocations(raw []byte) ([]models.Location, error) {
	var file locationsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse locations file: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid locations file: %w", err)
	}
	return file.Locations, nil
}
