// Package parser extracts a PropertyDetail from a listing detail page. Any
// missing structural element degrades that field to absent; only unreadable
// markup is an error.
package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/normalize"
)

// Structural selectors for the detail page. The container classes are build
// artifacts and change when the site redeploys its frontend; keeping them in
// one place makes the inevitable bump a one-line change.
const (
	primaryBlockSelector   = "dl._2E1qBJkWUYMJYHfYJzUb_r div"
	secondaryBlockSelector = "div._4hBezflLdgDMdFtURKTWh dl"
	priceSelector          = "div._1gfnqJ3Vtd1z40MlC0MzXu span"
	epcLinkSelector        = "div._3BAkOrQAfGZMsQDtC0WdbO._3A8p_O-xNhCM7MwsZ_g0yj a"
	letAgreedSelector      = "span.ksc_lozenge.berry._2WqVSGdiq2H4orAZsyHHgz"
)

// Parse reads a detail page and returns a PropertyDetail seeded from the
// LinkRecord. A page lacking every known block still yields a partial record
// carrying the link's identifiers, title and description.
func Parse(r io.Reader, link models.LinkRecord) (models.PropertyDetail, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return models.PropertyDetail{}, fmt.Errorf("parse detail page for %s: %w", link.PropertyID, err)
	}

	d := models.PropertyDetail{
		PropertyID:   link.PropertyID,
		PropertyURL:  link.PropertyURL,
		LocationID:   link.LocationID,
		LocationName: link.LocationName,
		Title:        link.Title,
		Description:  link.Description,
		ImageURL:     link.ImageURL,
		DateAdded:    link.DateAdded,
	}

	doc.Find(primaryBlockSelector).Each(func(_ int, entry *goquery.Selection) {
		applyEntry(&d, entry)
	})
	doc.Find(secondaryBlockSelector).Each(func(_ int, entry *goquery.Selection) {
		applyEntry(&d, entry)
	})

	if rent := doc.Find(priceSelector).First(); rent.Length() > 0 {
		if v, ok := normalize.CleanCurrency(rent.Text()); ok {
			d.RentPCM = &v
		}
	}

	// EPC link is commonly absent; never an error.
	if epc := doc.Find(epcLinkSelector).First(); epc.Length() > 0 {
		if href, ok := epc.Attr("href"); ok {
			d.EPCRatingURL = strings.TrimSpace(href)
		}
	}

	d.LetAgreed = doc.Find(letAgreedSelector).Length() > 0

	return d, nil
}

func applyEntry(d *models.PropertyDetail, entry *goquery.Selection) {
	dt := entry.Find("dt").First()
	dd := entry.Find("dd").First()
	if dt.Length() == 0 || dd.Length() == 0 {
		return
	}
	setField(d, normalize.FormatLabel(dt.Text()), entryValue(dd))
}

// setField routes a labelled value into the fixed output schema. Unknown
// labels are dropped, keeping the record restricted to declared fields.
func setField(d *models.PropertyDetail, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch key {
	case "let_available_date":
		d.LetAvailableDate = value
	case "deposit":
		if v, ok := normalize.CleanCurrency(value); ok {
			d.Deposit = &v
		}
	case "min_tenancy":
		d.MinTenancy = value
	case "let_type":
		d.LetType = value
	case "furnish_type":
		d.FurnishType = value
	case "property_type":
		d.PropertyType = value
	case "bedrooms":
		if v, ok := normalize.CleanCount(value); ok {
			d.Bedrooms = &v
		}
	case "bathrooms":
		if v, ok := normalize.CleanCount(value); ok {
			d.Bathrooms = &v
		}
	case "size":
		if v, ok := normalize.CleanSize(value); ok {
			d.SizeSqm = &v
		}
	}
}

// entryValue extracts the value text of a dd cell. The site renders some
// values alongside icon markup, so three strategies are tried in order:
// direct text content, the text node after the icon span, then the text node
// before it.
func entryValue(dd *goquery.Selection) string {
	if t := strings.TrimSpace(ownText(dd)); t != "" {
		return t
	}

	icon := dd.Find("span").First()
	if icon.Length() == 0 {
		return ""
	}
	node := icon.Get(0)
	if t := siblingText(node.NextSibling); t != "" {
		return t
	}
	return siblingText(node.PrevSibling)
}

// ownText concatenates the direct text children of the selection, ignoring
// text nested inside child elements.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	return b.String()
}

func siblingText(n *html.Node) string {
	if n != nil && n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}
	return ""
}
