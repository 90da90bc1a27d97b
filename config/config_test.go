package config

import (
	"strings"
	"testing"
	"time"

	"github.com/msoto/lettings-pipeline/models"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Locations = []models.Location{{ID: "REGION^1244", Name: "Islington"}}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no locations",
			mutate:  func(cfg *Config) { cfg.Locations = nil },
			wantErr: "locations",
		},
		{
			name: "location missing name",
			mutate: func(cfg *Config) {
				cfg.Locations = []models.Location{{ID: "REGION^1244"}}
			},
			wantErr: "location",
		},
		{
			name:    "empty base url",
			mutate:  func(cfg *Config) { cfg.BaseURL = "" },
			wantErr: "base URL",
		},
		{
			name:    "invalid url format",
			mutate:  func(cfg *Config) { cfg.BaseURL = "http://" },
			wantErr: "base URL",
		},
		{
			name:    "zero page size",
			mutate:  func(cfg *Config) { cfg.PageSize = 0 },
			wantErr: "page size",
		},
		{
			name:    "empty months",
			mutate:  func(cfg *Config) { cfg.AvailabilityMonths = nil },
			wantErr: "availability months",
		},
		{
			name:    "month out of range",
			mutate:  func(cfg *Config) { cfg.AvailabilityMonths = []int{13} },
			wantErr: "month out of range",
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *Config) { cfg.Timeout = -1 * time.Second },
			wantErr: "timeout",
		},
		{
			name: "backoff exceeds cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 3 * time.Second
				cfg.RetryBackoffMax = 1 * time.Second
			},
			wantErr: "retry backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config should validate, got %v", err)
	}
}

func TestDefaultConfigNeedsLocations(t *testing.T) {
	// Without locations the run must abort before any network activity.
	if err := DefaultConfig().Validate(); err == nil {
		t.Fatalf("default config has no locations and must not validate")
	}
}

func TestMonthAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.AvailabilityMonths = []int{6, 7}

	if !cfg.MonthAllowed(time.June) || !cfg.MonthAllowed(time.July) {
		t.Fatalf("june and july should be allowed")
	}
	if cfg.MonthAllowed(time.August) {
		t.Fatalf("august should not be allowed")
	}
}

func TestParseLocations(t *testing.T) {
	raw := []byte(`
locations:
  - location_id: REGION^1244
    location_name: Islington
  - location_id: REGION^87490
    location_name: Hackney
`)
	locations, err := ParseLocations(raw)
	if err != nil {
		t.Fatalf("parse locations: %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("locations = %d, want 2", len(locations))
	}
	// File order must be preserved; stages process locations in input order.
	if locations[0].ID != "REGION^1244" || locations[0].Name != "Islington" {
		t.Fatalf("first location = %+v", locations[0])
	}
}

func TestParseLocationsRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty list", raw: "locations: []"},
		{name: "missing name", raw: "locations:\n  - location_id: REGION^1244"},
		{name: "missing id", raw: "locations:\n  - location_name: Islington"},
		{name: "not yaml", raw: "{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLocations([]byte(tt.raw)); err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
		})
	}
}
