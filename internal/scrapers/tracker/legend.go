package tracker

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"surgerywatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ColorPair is the key the portal encodes a status with, both colors are normalized
// with htmlutil.NormalizeColor.
type ColorPair struct {
	Foreground string
	Background string
}

func NewColorPair(foreground, background string) ColorPair {
	return ColorPair{
		Foreground: htmlutil.NormalizeColor(foreground),
		Background: htmlutil.NormalizeColor(background),
	}
}

type LegendEntry struct {
	Foreground string
	Background string
	Status     string
}

func (e LegendEntry) Colors() ColorPair {
	return NewColorPair(e.Foreground, e.Background)
}

// Legend maps color pairs to status labels. A pair that maps to more than one label is
// ambiguous and resolves to nothing.
type Legend struct {
	statuses map[ColorPair][]string
}

// NewLegend builds a legend out of a set of entries, identical entries collapse into one.
func NewLegend(entries []LegendEntry) Legend {
	statuses := map[ColorPair][]string{}
	for _, e := range entries {
		pair := e.Colors()
		if slices.Contains(statuses[pair], e.Status) {
			continue
		}
		statuses[pair] = append(statuses[pair], e.Status)
	}
	return Legend{statuses: statuses}
}

// Lookup returns the status of a color pair, ok is false when zero or several
// entries match.
func (l Legend) Lookup(pair ColorPair) (status string, ok bool) {
	matches := l.statuses[pair]
	if len(matches) != 1 {
		return "", false
	}
	return matches[0], true
}

// ColorsOf returns the color pair a status is displayed with, if the status appears
// in the legend under exactly one unambiguous pair.
func (l Legend) ColorsOf(status string) (ColorPair, bool) {
	var found []ColorPair
	for pair, statuses := range l.statuses {
		if len(statuses) == 1 && statuses[0] == status {
			found = append(found, pair)
		}
	}
	if len(found) != 1 {
		return ColorPair{}, false
	}
	return found[0], true
}

// Ambiguous lists the color pairs that map to more than one status.
func (l Legend) Ambiguous() []ColorPair {
	var out []ColorPair
	for pair, statuses := range l.statuses {
		if len(statuses) > 1 {
			out = append(out, pair)
		}
	}
	slices.SortFunc(out, compareColorPair)
	return out
}

// Entries returns every entry of the legend ordered by status then colors.
func (l Legend) Entries() []LegendEntry {
	var out []LegendEntry
	for pair, statuses := range l.statuses {
		for _, s := range statuses {
			out = append(out, LegendEntry{
				Foreground: pair.Foreground,
				Background: pair.Background,
				Status:     s,
			})
		}
	}
	slices.SortFunc(out, func(a, b LegendEntry) int {
		if c := strings.Compare(a.Status, b.Status); c != 0 {
			return c
		}
		return compareColorPair(a.Colors(), b.Colors())
	})
	return out
}

func (l Legend) Len() int {
	n := 0
	for _, statuses := range l.statuses {
		n += len(statuses)
	}
	return n
}

func compareColorPair(a, b ColorPair) int {
	if c := strings.Compare(a.Foreground, b.Foreground); c != 0 {
		return c
	}
	return strings.Compare(a.Background, b.Background)
}

// ResolveLegend fetches the informational page and reads the color legend out of its
// legend table. It is meant to be called once per watch session.
func (c *Client) ResolveLegend(ctx context.Context) (Legend, error) {
	c.tel.ReportDebug(report_client_resolve_legend, c.opts.LegendPath)

	res, err := c.http.R().
		SetContext(ctx).
		Get(c.opts.LegendPath)
	if err != nil {
		c.tel.ReportBroken(
			report_client_resolve_legend,
			fmt.Errorf("fetch: %w", err),
		)
		return Legend{}, fmt.Errorf("%w: fetch legend: %w", ErrNetwork, err)
	}
	if res.IsError() {
		err := fmt.Errorf("%w: fetch legend: unexpected status %s", ErrNetwork, res.Status())
		c.tel.ReportBroken(report_client_resolve_legend, err)
		return Legend{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_resolve_legend,
			fmt.Errorf("parse html: %w", err),
		)
		return Legend{}, fmt.Errorf("%w: parse legend page: %w", ErrParse, err)
	}

	entries, err := c.parseLegend(doc)
	if err != nil {
		c.tel.ReportBroken(report_client_resolve_legend, err)
		return Legend{}, err
	}

	legend := NewLegend(entries)
	c.tel.ReportCount(report_client_resolve_legend, int64(legend.Len()))
	for _, pair := range legend.Ambiguous() {
		c.tel.ReportWarning(
			report_client_resolve_legend,
			"ambiguous legend colors",
			pair.Foreground,
			pair.Background,
		)
	}

	return legend, nil
}

func (c *Client) parseLegend(doc *goquery.Document) ([]LegendEntry, error) {
	table := doc.Find(fmt.Sprintf(`[id="%s"]`, c.opts.LegendTableId)).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: could not find legend table #%s", ErrParse, c.opts.LegendTableId)
	}

	var entries []LegendEntry
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		status := htmlutil.CleanText(row.Text())
		if status == "" {
			return
		}

		style := htmlutil.ParseStyle(row.AttrOr("style", ""))
		if style["color"] == "" || style["background-color"] == "" {
			// some legends put the colors on the cell instead of the row
			cellStyle := htmlutil.ParseStyle(row.Find("td[style], th[style]").First().AttrOr("style", ""))
			for _, prop := range []string{"color", "background-color"} {
				if style[prop] == "" {
					style[prop] = cellStyle[prop]
				}
			}
		}

		if style["color"] == "" || style["background-color"] == "" {
			c.tel.ReportWarning(
				report_client_resolve_legend,
				"legend row without colors",
				i,
				status,
			)
			return
		}

		entries = append(entries, LegendEntry{
			Foreground: style["color"],
			Background: style["background-color"],
			Status:     status,
		})
	})

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: legend table #%s has no colored rows", ErrParse, c.opts.LegendTableId)
	}
	return entries, nil
}
