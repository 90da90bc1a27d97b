// Package models defines the record types passed between pipeline stages.
package models

import "time"

// Location is a configured search target on the source site.
type Location struct {
	ID   string `yaml:"location_id" validate:"required"`
	Name string `yaml:"location_name" validate:"required"`
}

// LinkRecord is one discovered listing occurrence. Repeated discovery runs may
// produce several LinkRecords for the same PropertyID; the one with the latest
// DateAdded is authoritative downstream.
type LinkRecord struct {
	PropertyID   string    `json:"property_id"`
	PropertyURL  string    `json:"property_url"`
	LocationID   string    `json:"location_id"`
	LocationName string    `json:"location_name"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ImageURL     string    `json:"image_url"`
	DateAdded    time.Time `json:"date_added"`
}

// PropertyDetail is a fully parsed and normalized listing. Numeric fields the
// site may omit are pointers; nil means the page did not carry the value.
type PropertyDetail struct {
	PropertyID   string    `json:"property_id"`
	PropertyURL  string    `json:"property_url"`
	LocationID   string    `json:"location_id"`
	LocationName string    `json:"location_name"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ImageURL     string    `json:"image_url"`
	DateAdded    time.Time `json:"date_added"`

	RentPCM          *int     `json:"rent_pcm"`
	LetAvailableDate string   `json:"let_available_date"`
	Deposit          *int     `json:"deposit"`
	MinTenancy       string   `json:"min_tenancy"`
	LetType          string   `json:"let_type"`
	FurnishType      string   `json:"furnish_type"`
	PropertyType     string   `json:"property_type"`
	Bedrooms         *int     `json:"bedrooms"`
	Bathrooms        *int     `json:"bathrooms"`
	SizeSqm          *float64 `json:"size"`
	EPCRatingURL     string   `json:"epc_rating_url"`

	// LetAgreed marks listings the site already flags as taken; the detail
	// stage drops them before filtering on availability.
	LetAgreed bool `json:"-"`
}

// PropertyFact is the canonical row surfaced to the dashboard: the freshest
// PropertyDetail plus the sticky user flags.
type PropertyFact struct {
	PropertyDetail
	IsFavourite int `json:"is_favourite"`
	IsHidden    int `json:"is_hidden"`
}

// UserFlags is the slice of a PropertyFact that must survive re-scrapes.
type UserFlags struct {
	IsFavourite int
	IsHidden    int
}

// NewFact wraps a detail with flags, defaulting both to zero.
func NewFact(d PropertyDetail, flags UserFlags) PropertyFact {
	return PropertyFact{PropertyDetail: d, IsFavourite: flags.IsFavourite, IsHidden: flags.IsHidden}
}

// StageReport summarises one stage run for logging and the end-of-run summary.
type StageReport struct {
	Stage        string
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int
	RetryCount   int
	ErrorCount   int
	Accepted     int
	Rejected     map[string]int
	ErrorsByType map[string]int
	FailedIDs    []string
}

// NewStageReport initialises the counter maps so callers can increment freely.
func NewStageReport(stage string) *StageReport {
	return &StageReport{
		Stage:        stage,
		StartTime:    time.Now(),
		Rejected:     make(map[string]int),
		ErrorsByType: make(map[string]int),
	}
}

// Reject counts one rejected listing under the given reason.
func (r *StageReport) Reject(reason string) {
	r.Rejected[reason]++
}

// Fail counts one failed listing under the given error category.
func (r *StageReport) Fail(id, category string) {
	r.ErrorCount++
	r.ErrorsByType[category]++
	if id != "" {
		r.FailedIDs = append(r.FailedIDs, id)
	}
}
