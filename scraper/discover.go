// Package scraper implements the two fetching stages of the pipeline: link
// discovery over the paginated search endpoint, and per-listing detail
// fetching. Both run strictly sequentially; one request is in flight at a
// time.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/msoto/lettings-pipeline/config"
	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/store"
)

const (
	stageDiscover = "discover"
	stageDetails  = "details"
)

// Search result card selectors.
const (
	searchCardSelector      = "div.propertyCard"
	cardLinkSelector        = "a.propertyCard-link"
	cardTitleSelector       = "h2.propertyCard-title"
	cardDescriptionSelector = "div.propertyCard-description span"
	cardImageSelector       = "div.propertyCard-img img"
)

// Discoverer paginates the search endpoint per configured location and
// appends discovered LinkRecords to the link store.
type Discoverer struct {
	cfg       *config.Config
	links     store.LinkStore
	metrics   *Metrics
	collector *colly.Collector
	retry     backoffPolicy
	seen      *lru.Cache[string, struct{}]

	requestCount int64

	// Per-visit state. The collector is synchronous, so plain fields are
	// safe; each visitPage call resets them.
	loc         models.Location
	stamp       time.Time
	pageSeen    map[string]struct{}
	pageRecords []models.LinkRecord
	lastErr     error
}

// NewDiscoverer builds a discovery stage writing to the given link store.
func NewDiscoverer(cfg *config.Config, links store.LinkStore, metrics *Metrics) (*Discoverer, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	cache, err := lru.New[string, struct{}](cfg.DedupeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build dedupe cache: %w", err)
	}

	d := &Discoverer{
		cfg:       cfg,
		links:     links,
		metrics:   metrics,
		collector: collector,
		retry: backoffPolicy{
			maxRetries: cfg.MaxRetries,
			base:       cfg.RetryBackoff,
			cap:        cfg.RetryBackoffMax,
		},
		seen: cache,
	}
	d.registerHandlers()
	return d, nil
}

// WithTransport swaps the collector transport; tests inject httpmock here.
func (d *Discoverer) WithTransport(rt http.RoundTripper) {
	d.collector.WithTransport(rt)
}

func (d *Discoverer) registerHandlers() {
	d.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&d.requestCount, 1)
		d.metrics.IncRequest(stageDiscover)
	})

	d.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			d.metrics.ObserveDuration(stageDiscover, time.Since(start))
		}
	})

	d.collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		pageURL := ""
		if r != nil {
			statusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				pageURL = r.Request.URL.String()
			}
		}
		d.lastErr = classifyFetchError(pageURL, statusCode, err)
		d.metrics.IncError(stageDiscover, errorKindLabel(d.lastErr))
	})

	d.collector.OnHTML(searchCardSelector, func(e *colly.HTMLElement) {
		href := e.ChildAttr(cardLinkSelector, "href")
		if href == "" {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		id := propertyIDFromURL(abs)
		if id == "" {
			slog.Debug("card link without property id", slog.String("href", href))
			return
		}

		// The site occasionally renders the same card twice on a page.
		if _, dup := d.pageSeen[abs]; dup {
			return
		}
		d.pageSeen[abs] = struct{}{}

		// Run-level dedupe: pagination re-sorts between requests, so a
		// listing can reappear on a later page of the same location.
		if present, _ := d.seen.ContainsOrAdd(d.loc.ID+"|"+id, struct{}{}); present {
			return
		}

		d.pageRecords = append(d.pageRecords, models.LinkRecord{
			PropertyID:   id,
			PropertyURL:  abs,
			LocationID:   d.loc.ID,
			LocationName: d.loc.Name,
			Title:        strings.TrimSpace(e.ChildText(cardTitleSelector)),
			Description:  strings.TrimSpace(e.ChildText(cardDescriptionSelector)),
			ImageURL:     e.Request.AbsoluteURL(e.ChildAttr(cardImageSelector, "src")),
			DateAdded:    d.stamp,
		})
		d.metrics.IncItems(stageDiscover)
	})
}

// Run paginates every configured location in order and appends the run's
// LinkRecords to the link store. All records share one discovery timestamp so
// downstream latest-per-id comparisons group the run together.
func (d *Discoverer) Run(ctx context.Context) (*models.StageReport, error) {
	report := models.NewStageReport(stageDiscover)
	atomic.StoreInt64(&d.requestCount, 0)
	stamp := time.Now().UTC()

	for _, loc := range d.cfg.Locations {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		records, err := d.discoverLocation(ctx, loc, stamp, report)
		if err != nil {
			// Page retries exhausted; keep what this location yielded so
			// far and move on.
			slog.Error("location discovery aborted",
				slog.String("location", loc.Name),
				slog.Any("error", err),
			)
			report.Fail(loc.ID, errorKindLabel(err))
		}
		if len(records) > 0 {
			if err := d.links.AppendLinks(ctx, records); err != nil {
				return report, fmt.Errorf("append links for %s: %w", loc.Name, err)
			}
			report.Accepted += len(records)
		}
		slog.Info("location discovered",
			slog.String("location", loc.Name),
			slog.Int("links", len(records)),
		)
	}

	report.RequestCount = int(atomic.LoadInt64(&d.requestCount))
	report.EndTime = time.Now()
	return report, nil
}

// discoverLocation walks offsets 0, pageSize, 2*pageSize, ... until a page
// yields fewer distinct links than the page size or nothing new. A failed
// page is retried in place; the offset never advances past an unfetched page.
func (d *Discoverer) discoverLocation(ctx context.Context, loc models.Location, stamp time.Time, report *models.StageReport) ([]models.LinkRecord, error) {
	var records []models.LinkRecord

	for offset := 0; ; offset += d.cfg.PageSize {
		pageURL := d.searchURL(loc, offset)

		var pageCount int
		var fresh []models.LinkRecord
		err := d.retry.do(ctx, fmt.Sprintf("discover %s offset %d", loc.Name, offset),
			func() {
				d.metrics.IncRetries(stageDiscover)
				report.RetryCount++
			},
			func() error {
				var visitErr error
				pageCount, fresh, visitErr = d.visitPage(pageURL, loc, stamp)
				return visitErr
			})
		if err != nil {
			return records, err
		}

		records = append(records, fresh...)
		if len(fresh) == 0 || pageCount < d.cfg.PageSize {
			break
		}
	}
	return records, nil
}

func (d *Discoverer) visitPage(pageURL string, loc models.Location, stamp time.Time) (int, []models.LinkRecord, error) {
	d.loc = loc
	d.stamp = stamp
	d.pageSeen = make(map[string]struct{})
	d.pageRecords = nil
	d.lastErr = nil

	err := d.collector.Visit(pageURL)
	// OnError classifies with the response status; prefer that over the
	// bare error Visit propagates for non-2xx responses.
	if d.lastErr != nil {
		return 0, nil, d.lastErr
	}
	if err != nil {
		return 0, nil, classifyFetchError(pageURL, 0, err)
	}
	return len(d.pageSeen), d.pageRecords, nil
}

func (d *Discoverer) searchURL(loc models.Location, offset int) string {
	q := url.Values{}
	q.Set("searchType", "RENT")
	q.Set("locationIdentifier", loc.ID)
	q.Set("maxPrice", strconv.Itoa(d.cfg.MaxPrice))
	q.Set("minBedrooms", strconv.Itoa(d.cfg.MinBedrooms))
	q.Set("propertyTypes", d.cfg.PropertyTypes)
	q.Set("includeLetAgreed", "false")
	q.Set("index", strconv.Itoa(offset))
	return d.cfg.BaseURL + d.cfg.SearchPath + "?" + q.Encode()
}

// propertyIDFromURL extracts the listing id from the second path segment,
// e.g. /properties/135872467#/?channel=RES_LET -> 135872467.
func propertyIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
