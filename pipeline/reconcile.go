// Package pipeline merges freshly parsed listing details into the canonical
// fact table while preserving user-set flags.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/store"
)

const stageReconcile = "reconcile"

// Reconciler replaces the fact table with the newest detail batch, carrying
// forward favourite/hidden flags for previously seen listings.
type Reconciler struct {
	details store.DetailStore
	facts   store.FactStore
}

// NewReconciler builds the reconciliation stage.
func NewReconciler(details store.DetailStore, facts store.FactStore) *Reconciler {
	return &Reconciler{details: details, facts: facts}
}

// Run merges the current detail batch against the prior fact table and
// atomically replaces it. Listings absent from the new batch are dropped;
// the dropped count is logged so delisting is visible per run.
//
// TODO: product call pending on retaining delisted rows as soft-deleted
// instead of dropping them.
func (r *Reconciler) Run(ctx context.Context) (*models.StageReport, error) {
	report := models.NewStageReport(stageReconcile)

	details, err := r.details.Details(ctx)
	if err != nil {
		return report, fmt.Errorf("read detail batch: %w", err)
	}
	prior, err := r.facts.PriorFlags(ctx)
	if err != nil {
		return report, fmt.Errorf("read prior facts: %w", err)
	}

	facts := Merge(details, prior)

	kept := make(map[string]struct{}, len(facts))
	carried := 0
	for _, f := range facts {
		kept[f.PropertyID] = struct{}{}
		if _, seen := prior[f.PropertyID]; seen {
			carried++
		}
	}
	dropped := 0
	for id := range prior {
		if _, ok := kept[id]; !ok {
			dropped++
			report.Reject("delisted")
		}
	}

	if err := r.facts.ReplaceFacts(ctx, facts); err != nil {
		return report, fmt.Errorf("replace facts: %w", err)
	}

	report.Accepted = len(facts)
	report.EndTime = time.Now()
	slog.Info("fact table reconciled",
		slog.Int("facts", len(facts)),
		slog.Int("new", len(facts)-carried),
		slog.Int("carried", carried),
		slog.Int("dropped", dropped),
	)
	return report, nil
}

// Merge left-joins the detail batch against the prior flags. Details are
// deduplicated by property_id first (last-wins; upstream already dedupes, but
// the invariant is enforced here regardless). First-seen listings get zeroed
// flags.
func Merge(details []models.PropertyDetail, prior map[string]models.UserFlags) []models.PropertyFact {
	index := make(map[string]int, len(details))
	deduped := make([]models.PropertyDetail, 0, len(details))
	for _, d := range details {
		if i, ok := index[d.PropertyID]; ok {
			deduped[i] = d
			continue
		}
		index[d.PropertyID] = len(deduped)
		deduped = append(deduped, d)
	}

	facts := make([]models.PropertyFact, 0, len(deduped))
	for _, d := range deduped {
		facts = append(facts, models.NewFact(d, prior[d.PropertyID]))
	}
	return facts
}
