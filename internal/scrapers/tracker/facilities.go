package tracker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"surgerywatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

// minFacilitySimilarity is the Jaro-Winkler similarity a facility name needs to reach
// for FindFacility to consider it a match.
const minFacilitySimilarity = 0.85

type Facility struct {
	Name string
	ID   string
}

// ListFacilities reads the facilities linked from the portal root, a facility is any
// anchor whose href carries the facility query parameter.
func (c *Client) ListFacilities(ctx context.Context) ([]Facility, error) {
	c.tel.ReportDebug(report_client_list_facilities, c.opts.FacilitiesPath)

	res, err := c.http.R().
		SetContext(ctx).
		Get(c.opts.FacilitiesPath)
	if err != nil {
		c.tel.ReportBroken(
			report_client_list_facilities,
			fmt.Errorf("fetch: %w", err),
		)
		return nil, fmt.Errorf("%w: fetch facilities: %w", ErrNetwork, err)
	}
	if res.IsError() {
		err := fmt.Errorf("%w: fetch facilities: unexpected status %s", ErrNetwork, res.Status())
		c.tel.ReportBroken(report_client_list_facilities, err)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_list_facilities,
			fmt.Errorf("parse html: %w", err),
		)
		return nil, fmt.Errorf("%w: parse facilities page: %w", ErrParse, err)
	}

	pageUrl := c.baseUrl
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		pageUrl = res.RawResponse.Request.URL
	}

	seen := map[string]bool{}
	var facilities []Facility
	for _, anchor := range htmlutil.GetAnchors(pageUrl, doc.Find("a[href]")) {
		id := ""
		for key, values := range anchor.Url.Query() {
			if strings.EqualFold(key, c.opts.FacilityParam) && len(values) > 0 {
				id = strings.TrimSpace(values[0])
				break
			}
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		name := anchor.Name
		if name == "" {
			name = id
		}
		facilities = append(facilities, Facility{Name: name, ID: id})
	}

	c.tel.ReportCount(report_client_list_facilities, int64(len(facilities)))
	return facilities, nil
}

// FindFacility picks a facility by id, by case-insensitive name or failing that by
// the most similar name.
func FindFacility(facilities []Facility, query string) (Facility, error) {
	query = strings.TrimSpace(query)
	for _, f := range facilities {
		if f.ID == query {
			return f, nil
		}
	}
	for _, f := range facilities {
		if strings.EqualFold(f.Name, query) {
			return f, nil
		}
	}

	var best Facility
	bestScore := 0.0
	normalizedQuery := strings.ToLower(query)
	for _, f := range facilities {
		score := matchr.JaroWinkler(normalizedQuery, strings.ToLower(f.Name), false)
		if score > bestScore {
			best = f
			bestScore = score
		}
	}
	if bestScore < minFacilitySimilarity {
		return Facility{}, fmt.Errorf("%w: no facility matches %q", ErrNotFound, query)
	}
	return best, nil
}
