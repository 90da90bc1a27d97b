package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/store"
)

func buildDetailBody(available string, letAgreed bool) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(`<div class="_1gfnqJ3Vtd1z40MlC0MzXu"><span>&#163;1,950 pcm</span></div>`)
	b.WriteString(`<dl class="_2E1qBJkWUYMJYHfYJzUb_r">`)
	fmt.Fprintf(&b, "<div><dt>Let available date</dt><dd>%s</dd></div>", available)
	b.WriteString("</dl>")
	if letAgreed {
		b.WriteString(`<span class="ksc_lozenge berry _2WqVSGdiq2H4orAZsyHHgz">Let agreed</span>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func linkFor(id string, added time.Time) models.LinkRecord {
	return models.LinkRecord{
		PropertyID:   id,
		PropertyURL:  "http://example.test/properties/" + id,
		LocationID:   "REGION^1244",
		LocationName: "Islington",
		Title:        id + " bedroom flat to rent",
		DateAdded:    added,
	}
}

func TestDetailFetcherAppliesAvailabilityFilter(t *testing.T) {
	cfg := discoverConfig()
	now := time.Now().UTC()

	pages := map[string]string{
		"101": buildDetailBody("Now", false),
		"102": buildDetailBody("Ask agent", false),
		"103": buildDetailBody("15/06/2025", false),
		"104": buildDetailBody("15/08/2025", false),
		"105": buildDetailBody("N/A", false),
	}

	mem := store.NewMemory()
	transport := httpmock.NewMockTransport()
	var links []models.LinkRecord
	for id, body := range pages {
		link := linkFor(id, now)
		links = append(links, link)
		transport.RegisterResponder("GET", link.PropertyURL, htmlResponder(body))
	}
	if err := mem.AppendLinks(context.Background(), links); err != nil {
		t.Fatalf("seed links: %v", err)
	}

	f := NewDetailFetcher(cfg, mem, mem, NewMetrics())
	f.WithTransport(transport)

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	details, err := mem.Details(context.Background())
	if err != nil {
		t.Fatalf("read details: %v", err)
	}

	accepted := make(map[string]bool)
	for _, d := range details {
		accepted[d.PropertyID] = true
	}
	for _, id := range []string{"101", "102", "103"} {
		if !accepted[id] {
			t.Errorf("listing %s should be accepted", id)
		}
	}
	for _, id := range []string{"104", "105"} {
		if accepted[id] {
			t.Errorf("listing %s should be rejected", id)
		}
	}

	if got := report.Rejected["availability_window"]; got != 1 {
		t.Errorf("availability_window rejects = %d, want 1", got)
	}
	if got := report.Rejected["malformed_availability"]; got != 1 {
		t.Errorf("malformed_availability rejects = %d, want 1", got)
	}
	if report.ErrorCount != 0 {
		t.Errorf("errors = %d, want 0 (%v)", report.ErrorCount, report.ErrorsByType)
	}

	// Accepted records carry parsed values.
	for _, d := range details {
		if d.RentPCM == nil || *d.RentPCM != 1950 {
			t.Errorf("listing %s rent = %v, want 1950", d.PropertyID, d.RentPCM)
		}
	}
}

func TestDetailFetcherUsesFreshestLink(t *testing.T) {
	cfg := discoverConfig()
	t1 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	stale := linkFor("201", t1)
	stale.PropertyURL = "http://example.test/properties/201/stale"
	fresh := linkFor("201", t2)

	mem := store.NewMemory()
	if err := mem.AppendLinks(context.Background(), []models.LinkRecord{stale, fresh}); err != nil {
		t.Fatalf("seed links: %v", err)
	}

	// Only the fresh URL has a responder; hitting the stale one fails the
	// test through the error count.
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", fresh.PropertyURL, htmlResponder(buildDetailBody("Now", false)))

	f := NewDetailFetcher(cfg, mem, mem, NewMetrics())
	f.WithTransport(transport)

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ErrorCount != 0 {
		t.Fatalf("errors = %d, want 0: stale link was fetched (%v)", report.ErrorCount, report.ErrorsByType)
	}

	details, _ := mem.Details(context.Background())
	if len(details) != 1 || details[0].PropertyID != "201" {
		t.Fatalf("details = %+v, want one record for 201", details)
	}
}

func TestDetailFetcherSkipsLetAgreed(t *testing.T) {
	cfg := discoverConfig()
	link := linkFor("301", time.Now().UTC())

	mem := store.NewMemory()
	if err := mem.AppendLinks(context.Background(), []models.LinkRecord{link}); err != nil {
		t.Fatalf("seed links: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", link.PropertyURL, htmlResponder(buildDetailBody("Now", true)))

	f := NewDetailFetcher(cfg, mem, mem, NewMetrics())
	f.WithTransport(transport)

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := report.Rejected["let_agreed"]; got != 1 {
		t.Fatalf("let_agreed rejects = %d, want 1", got)
	}
	if details, _ := mem.Details(context.Background()); len(details) != 0 {
		t.Fatalf("details = %+v, want empty", details)
	}
}

func TestDetailFetcherContinuesAfterListingFailure(t *testing.T) {
	cfg := discoverConfig()
	now := time.Now().UTC()
	bad := linkFor("401", now)
	good := linkFor("402", now)

	mem := store.NewMemory()
	if err := mem.AppendLinks(context.Background(), []models.LinkRecord{bad, good}); err != nil {
		t.Fatalf("seed links: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bad.PropertyURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	transport.RegisterResponder("GET", good.PropertyURL, htmlResponder(buildDetailBody("Now", false)))

	f := NewDetailFetcher(cfg, mem, mem, NewMetrics())
	f.WithTransport(transport)

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("one bad listing must not abort the batch: %v", err)
	}

	if report.ErrorCount != 1 {
		t.Fatalf("errors = %d, want 1 (%v)", report.ErrorCount, report.ErrorsByType)
	}
	if got := report.ErrorsByType["bad_status"]; got != 1 {
		t.Fatalf("bad_status errors = %d, want 1 (%v)", got, report.ErrorsByType)
	}
	details, _ := mem.Details(context.Background())
	if len(details) != 1 || details[0].PropertyID != "402" {
		t.Fatalf("details = %+v, want only 402", details)
	}
}

func TestLatestPerID(t *testing.T) {
	t1 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	links := []models.LinkRecord{
		{PropertyID: "1", PropertyURL: "u1-old", DateAdded: t1},
		{PropertyID: "2", PropertyURL: "u2", DateAdded: t1},
		{PropertyID: "1", PropertyURL: "u1-new", DateAdded: t2},
	}

	out := latestPerID(links)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].PropertyID != "1" || out[0].PropertyURL != "u1-new" {
		t.Fatalf("latest for id 1 = %+v, want the newer record", out[0])
	}
}

func TestDedupeDetails(t *testing.T) {
	one := 1
	two := 2
	details := []models.PropertyDetail{
		{PropertyID: "1", Bedrooms: &one},
		{PropertyID: "2"},
		{PropertyID: "1", Bedrooms: &two},
	}

	out := dedupeDetails(details)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].PropertyID != "1" || out[0].Bedrooms == nil || *out[0].Bedrooms != 2 {
		t.Fatalf("dedupe should keep the last record for id 1, got %+v", out[0])
	}
}
