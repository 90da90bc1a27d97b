// Package store persists stage outputs in the warehouse. Each stage reads its
// input from the table the previous stage wrote, so stages can be re-run and
// inspected independently.
package store

import (
	"context"

	"github.com/msoto/lettings-pipeline/models"
)

// LinkStore holds discovered listing links. Links are appended, never
// updated; later discovery runs supersede earlier ones via date_added.
type LinkStore interface {
	AppendLinks(ctx context.Context, links []models.LinkRecord) error
	// LatestLinks returns one LinkRecord per property_id, the one with the
	// most recent date_added.
	LatestLinks(ctx context.Context) ([]models.LinkRecord, error)
}

// DetailStore holds the parsed details of the most recent fetch pass. Each
// run replaces the table wholesale.
type DetailStore interface {
	ReplaceDetails(ctx context.Context, details []models.PropertyDetail) error
	Details(ctx context.Context) ([]models.PropertyDetail, error)
}

// FactStore holds the canonical fact table the dashboard reads. ReplaceFacts
// must be atomic from a reader's perspective. The favourite/hidden flags are
// written by the dashboard, never by the pipeline; PriorFlags only reads them.
type FactStore interface {
	PriorFlags(ctx context.Context) (map[string]models.UserFlags, error)
	ReplaceFacts(ctx context.Context, facts []models.PropertyFact) error
	Facts(ctx context.Context) ([]models.PropertyFact, error)
}

// Warehouse is the full storage surface a pipeline run needs.
type Warehouse interface {
	LinkStore
	DetailStore
	FactStore
	Close() error
}
