// Package smithandcrown harvests the ICO table published by Smith + Crown.
// A single index page holds every listing, one table row per token sale.
package smithandcrown

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/site/field"
)

// Name is the registry name of the adapter.
const Name = "smithandcrown"

// IndexURL lists every tracked sale.
const IndexURL = "https://www.smithandcrown.com/icos/"

const dateLayout = "Jan 2, 2006"

var table = record.Table{
	Name: "smithandcrown",
	Columns: []record.Column{
		{Name: "name", Kind: record.String, Required: true},
		{Name: "start", Kind: record.Time, Required: true},
		{Name: "end", Kind: record.Time, Required: true},
		{Name: "site", Kind: record.String, Required: true},
		{Name: "description", Kind: record.Text, Required: true},
		{Name: "raised", Kind: record.Int},
		{Name: "token_symbol", Kind: record.String, Required: true},
	},
}

// Adapter implements site.Adapter and site.MultiExtractor.
type Adapter struct {
	index  string
	logger *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIndexURL overrides the index page.
func WithIndexURL(u string) Option {
	return func(a *Adapter) { a.index = u }
}

// New builds the adapter.
func New(deps site.Deps, opts ...Option) *Adapter {
	deps = deps.WithDefaults()
	a := &Adapter{index: IndexURL, logger: deps.Logger.Named(Name)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory adapts New to site.Factory.
func Factory(deps site.Deps) site.Adapter { return New(deps) }

// Name implements site.Adapter.
func (a *Adapter) Name() string { return Name }

// Table implements site.Adapter.
func (a *Adapter) Table() record.Table { return table }

// NaturalKey implements site.Adapter.
func (a *Adapter) NaturalKey() record.NaturalKey { return record.NaturalKey{"name"} }

// IsComplete implements site.Adapter.
func (a *Adapter) IsComplete(raw record.RawRecord) bool { return table.IsComplete(raw) }

// Discover returns the index page itself; its rows are the records.
func (a *Adapter) Discover(ctx context.Context, _ site.Harvester) ([]harvest.Target, error) {
	return harvest.NewTargets("index", a.index), ctx.Err()
}

// Extract returns the first row of the page.
func (a *Adapter) Extract(res harvest.Result) record.RawRecord {
	rows := a.ExtractAll(res)
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// ExtractAll returns one record per listing row.
func (a *Adapter) ExtractAll(res harvest.Result) []record.RawRecord {
	doc, err := site.Document(res)
	if err != nil {
		a.logger.Warn("unparseable index", zap.String("url", res.URL), zap.Error(err))
		return nil
	}
	var out []record.RawRecord
	doc.Find("tr.clickable-row").Each(func(_ int, row *goquery.Selection) {
		out = append(out, extractRow(row))
	})
	return out
}

func extractRow(row *goquery.Selection) record.RawRecord {
	raw := record.RawRecord{}
	cells := row.Find("td")

	if text, ok := field.Text(row.Find("div.detail-col-name")); ok {
		name := field.Before(text, "(")
		raw.Set("name", name, name != "")
	}
	description, ok := field.Text(cells.Eq(2).Find("p"))
	raw.Set("description", description, ok)

	start, ok := field.Time(cells.Eq(4).Text(), dateLayout)
	raw.Set("start", start, ok)
	end, ok := field.Time(cells.Eq(5).Text(), dateLayout)
	raw.Set("end", end, ok)

	homepage, ok := field.Attr(row, "data-url")
	raw.Set("site", homepage, ok)
	symbol, ok := field.Attr(row, "data-shortcode")
	raw.Set("token_symbol", symbol, ok)

	raised, ok := extractRaised(row)
	raw.Set("raised", raised, ok)
	return raw
}

var raisedPlaceholders = strings.NewReplacer("N/A", "", "Canceled", "", "Refunded", "", "-", "")

// extractRaised reads "$4,200,000 USD"; placeholders mean no amount.
func extractRaised(row *goquery.Selection) (int64, bool) {
	text, ok := field.Text(row.Find("td.field-raised"))
	if !ok {
		return 0, false
	}
	amount := strings.Fields(text)[0]
	return field.Int(raisedPlaceholders.Replace(amount))
}
