package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/msoto/lettings-pipeline/config"
	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/normalize"
	"github.com/msoto/lettings-pipeline/parser"
	"github.com/msoto/lettings-pipeline/store"
)

// DetailFetcher turns the freshest LinkRecord per listing into a parsed
// PropertyDetail batch. A single listing's failure never aborts the batch.
type DetailFetcher struct {
	cfg     *config.Config
	links   store.LinkStore
	details store.DetailStore
	metrics *Metrics
	client  *http.Client
	retry   backoffPolicy
}

// NewDetailFetcher builds the detail stage reading from links and replacing
// the detail store's contents on every run.
func NewDetailFetcher(cfg *config.Config, links store.LinkStore, details store.DetailStore, metrics *Metrics) *DetailFetcher {
	return &DetailFetcher{
		cfg:     cfg,
		links:   links,
		details: details,
		metrics: metrics,
		client:  &http.Client{Timeout: cfg.Timeout},
		retry: backoffPolicy{
			maxRetries: cfg.MaxRetries,
			base:       cfg.RetryBackoff,
			cap:        cfg.RetryBackoffMax,
		},
	}
}

// WithTransport swaps the HTTP transport; tests inject httpmock here.
func (f *DetailFetcher) WithTransport(rt http.RoundTripper) {
	f.client.Transport = rt
}

// Run fetches and parses every surviving link sequentially, applies the
// availability filter, and replaces the detail table with the accepted batch.
func (f *DetailFetcher) Run(ctx context.Context) (*models.StageReport, error) {
	report := models.NewStageReport(stageDetails)

	links, err := f.links.LatestLinks(ctx)
	if err != nil {
		return report, fmt.Errorf("read latest links: %w", err)
	}
	// The store already reduces to the freshest sighting per id; reduce
	// again here so a less capable LinkStore cannot violate the invariant.
	links = latestPerID(links)

	slog.Info("fetching listing details", slog.Int("listings", len(links)))

	var accepted []models.PropertyDetail
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		detail, err := f.fetchOne(ctx, link, report)
		if err != nil {
			slog.Error("listing skipped",
				slog.String("property_id", link.PropertyID),
				slog.Any("error", err),
			)
			report.Fail(link.PropertyID, errorKindLabel(err))
			f.metrics.IncError(stageDetails, errorKindLabel(err))
			continue
		}

		if f.accept(detail, report) {
			accepted = append(accepted, detail)
			report.Accepted++
			f.metrics.IncItems(stageDetails)
		}

		if (i+1)%50 == 0 {
			slog.Info("detail fetch progress", slog.Int("done", i+1), slog.Int("total", len(links)))
		}
		report.RequestCount++
	}

	accepted = dedupeDetails(accepted)
	if err := f.details.ReplaceDetails(ctx, accepted); err != nil {
		return report, fmt.Errorf("replace details: %w", err)
	}

	report.EndTime = time.Now()
	return report, nil
}

func (f *DetailFetcher) fetchOne(ctx context.Context, link models.LinkRecord, report *models.StageReport) (models.PropertyDetail, error) {
	var detail models.PropertyDetail
	err := f.retry.do(ctx, "detail "+link.PropertyID,
		func() {
			f.metrics.IncRetries(stageDetails)
			report.RetryCount++
		},
		func() error {
			d, err := f.fetchAndParse(ctx, link)
			if err != nil {
				return err
			}
			detail = d
			return nil
		})
	return detail, err
}

func (f *DetailFetcher) fetchAndParse(ctx context.Context, link models.LinkRecord) (models.PropertyDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.PropertyURL, nil)
	if err != nil {
		return models.PropertyDetail{}, fmt.Errorf("build detail request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	f.metrics.IncRequest(stageDetails)
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return models.PropertyDetail{}, classifyFetchError(link.PropertyURL, 0, err)
	}
	defer resp.Body.Close()
	f.metrics.ObserveDuration(stageDetails, time.Since(start))

	if fe := classifyFetchError(link.PropertyURL, resp.StatusCode, nil); fe != nil {
		io.Copy(io.Discard, resp.Body)
		return models.PropertyDetail{}, fe
	}

	return parser.Parse(resp.Body, link)
}

// accept applies the business filter: immediate and unknown availability pass,
// dated availability passes inside the configured month window, malformed
// tokens are rejected with a data-quality warning, and let-agreed listings
// are dropped outright.
func (f *DetailFetcher) accept(d models.PropertyDetail, report *models.StageReport) bool {
	if d.LetAgreed {
		f.reject(d, report, "let_agreed")
		return false
	}

	av := normalize.ClassifyAvailability(d.LetAvailableDate)
	switch av.Kind {
	case normalize.AvailabilityImmediate, normalize.AvailabilityUnknown:
		return true
	case normalize.AvailabilityDated:
		if f.cfg.MonthAllowed(av.Month) {
			return true
		}
		f.reject(d, report, "availability_window")
		return false
	default:
		slog.Warn("unparseable let available date",
			slog.String("property_id", d.PropertyID),
			slog.String("raw", d.LetAvailableDate),
		)
		f.reject(d, report, "malformed_availability")
		return false
	}
}

func (f *DetailFetcher) reject(d models.PropertyDetail, report *models.StageReport, reason string) {
	slog.Debug("listing rejected",
		slog.String("property_id", d.PropertyID),
		slog.String("reason", reason),
	)
	report.Reject(reason)
	f.metrics.IncRejected(stageDetails, reason)
}

// latestPerID keeps the LinkRecord with the maximum date_added per id.
func latestPerID(links []models.LinkRecord) []models.LinkRecord {
	latest := make(map[string]models.LinkRecord, len(links))
	order := make([]string, 0, len(links))
	for _, l := range links {
		prev, ok := latest[l.PropertyID]
		if !ok {
			order = append(order, l.PropertyID)
			latest[l.PropertyID] = l
			continue
		}
		if l.DateAdded.After(prev.DateAdded) {
			latest[l.PropertyID] = l
		}
	}
	out := make([]models.LinkRecord, 0, len(latest))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// dedupeDetails enforces one PropertyDetail per id within the batch,
// last-wins.
func dedupeDetails(details []models.PropertyDetail) []models.PropertyDetail {
	index := make(map[string]int, len(details))
	out := make([]models.PropertyDetail, 0, len(details))
	for _, d := range details {
		if i, ok := index[d.PropertyID]; ok {
			out[i] = d
			continue
		}
		index[d.PropertyID] = len(out)
		out = append(out, d)
	}
	return out
}
