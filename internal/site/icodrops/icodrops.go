// Package icodrops harvests token sales listed on icodrops.com.
//
// Discovery is three pages deep: the home page links to one list page per
// column (active, upcoming, ended), and each list page links to detail pages.
package icodrops

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/site/field"
)

// Name is the registry name of the adapter.
const Name = "icodrops"

// BaseURL is the home page discovery starts from.
const BaseURL = "https://icodrops.com"

var table = record.Table{
	Name: "icodrops",
	Columns: []record.Column{
		{Name: "name", Kind: record.String, Required: true},
		{Name: "start", Kind: record.Time, Required: true},
		{Name: "end", Kind: record.Time, Required: true},
		{Name: "description", Kind: record.Text, Required: true},
		{Name: "price", Kind: record.Float, Required: true},
		{Name: "raised", Kind: record.Int, Required: true},
		{Name: "presale_start", Kind: record.Time, Required: true},
		{Name: "presale_end", Kind: record.Time, Required: true},
		{Name: "token_symbol", Kind: record.String, Required: true},
		{Name: "site", Kind: record.String},
	},
}

// Adapter implements site.Adapter for ICODrops.
type Adapter struct {
	base   string
	clock  site.Clock
	logger *zap.Logger
	opts   harvest.Options
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL points discovery at another host.
func WithBaseURL(base string) Option {
	return func(a *Adapter) { a.base = strings.TrimRight(base, "/") }
}

// New builds the adapter.
func New(deps site.Deps, opts ...Option) *Adapter {
	deps = deps.WithDefaults()
	a := &Adapter{
		base:   BaseURL,
		clock:  deps.Clock,
		logger: deps.Logger.Named(Name),
		opts:   deps.Options,
	}
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

// Discover fetches the home page, then each list page, and returns the
// detail pages they link to.
func (a *Adapter) Discover(ctx context.Context, h site.Harvester) ([]harvest.Target, error) {
	home := h.FetchAll(ctx, harvest.NewTargets("home", a.base+"/"), a.opts)
	listURLs := a.links(home, "div#view_all a[href]")
	if len(listURLs) == 0 {
		a.logger.Warn("no list pages found on home page", zap.String("url", a.base))
		return nil, ctx.Err()
	}

	lists := h.FetchAll(ctx, harvest.NewTargets("list", listURLs...), a.opts)
	details := a.links(lists, "a#ccc[href]")
	a.logger.Debug("discovered detail pages",
		zap.Int("lists", len(listURLs)),
		zap.Int("details", len(details)),
	)
	return harvest.NewTargets("detail", details...), ctx.Err()
}

func (a *Adapter) links(batch harvest.Batch, selector string) []string {
	var out []string
	for _, res := range batch.HTML() {
		doc, err := site.Document(res)
		if err != nil {
			a.logger.Warn("unparseable page", zap.String("url", res.URL), zap.Error(err))
			continue
		}
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := field.Attr(s, "href")
			if !ok {
				return
			}
			if abs, ok := resolve(res.URL, href); ok {
				out = append(out, abs)
			}
		})
	}
	return out
}

func resolve(base, href string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(ref).String(), true
}

// Extract reads one detail page. Fields that cannot be read are left absent.
func (a *Adapter) Extract(res harvest.Result) record.RawRecord {
	doc, err := site.Document(res)
	if err != nil {
		return nil
	}
	raw := record.RawRecord{}

	info := doc.Find("div.ico-main-info").First()
	name, ok := field.Text(info.Find("h3"))
	raw.Set("name", name, ok)
	description, ok := extractDescription(info)
	raw.Set("description", description, ok)

	start, end, startOK, endOK := extractSale(doc, a.clock.Now().Year())
	raw.Set("start", start, startOK)
	raw.Set("end", end, endOK)
	raw.Set("presale_start", start, startOK)
	raw.Set("presale_end", end, endOK)

	price, ok := extractPrice(doc)
	raw.Set("price", price, ok)
	raised, ok := extractRaised(doc)
	raw.Set("raised", raised, ok)
	symbol, ok := extractSymbol(doc)
	raw.Set("token_symbol", symbol, ok)
	homepage, ok := field.Attr(doc.Find("div.ico-right-col a"), "href")
	raw.Set("site", homepage, ok)
	return raw
}

func extractDescription(info *goquery.Selection) (string, bool) {
	if info.Length() == 0 {
		return "", false
	}
	body := info.Clone()
	body.Find("h3").Remove()
	return field.Text(body)
}

// extractSale parses "Token Sale: 12 Jan – 20 Feb". The page omits years, so
// year is assumed and an end before the start rolls into the next year.
func extractSale(doc *goquery.Document, year int) (time.Time, time.Time, bool, bool) {
	heading := doc.Find("h4").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Sale:")
	})
	text, ok := field.Text(heading)
	if !ok {
		return time.Time{}, time.Time{}, false, false
	}
	span, ok := field.After(text, "Sale:")
	if !ok {
		return time.Time{}, time.Time{}, false, false
	}
	parts := splitRange(span)
	start, startOK := saleDate(parts[0], year)
	if len(parts) < 2 {
		return start, time.Time{}, startOK, false
	}
	end, endOK := saleDate(parts[1], year)
	if startOK && endOK && end.Before(start) {
		end = end.AddDate(1, 0, 0)
	}
	return start, end, startOK, endOK
}

func splitRange(s string) []string {
	for _, sep := range []string{"–", "—", " - "} {
		if head, tail, found := strings.Cut(s, sep); found {
			return []string{strings.TrimSpace(head), strings.TrimSpace(tail)}
		}
	}
	return []string{strings.TrimSpace(s)}
}

func saleDate(s string, year int) (time.Time, bool) {
	t, ok := field.Time(s, "2 Jan", "2 January")
	if !ok {
		return time.Time{}, false
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

// labeled returns the text of the first li whose grey label contains label.
func labeled(doc *goquery.Document, label string) (string, bool) {
	item := doc.Find("li").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Find("span.grey").Text(), label)
	})
	return field.Text(item)
}

func extractPrice(doc *goquery.Document) (float64, bool) {
	text, ok := labeled(doc, "Token Price")
	if !ok {
		return 0, false
	}
	quote, ok := field.After(text, "=")
	if !ok {
		return 0, false
	}
	amount := strings.Fields(field.Before(quote, "("))
	if len(amount) == 0 {
		return 0, false
	}
	return field.Float(amount[0])
}

func extractRaised(doc *goquery.Document) (int64, bool) {
	text, ok := field.Text(doc.Find("div.money-goal"))
	if !ok {
		return 0, false
	}
	return field.Int(text)
}

func extractSymbol(doc *goquery.Document) (string, bool) {
	text, ok := labeled(doc, "Ticker:")
	if !ok {
		return "", false
	}
	return field.After(text, "Ticker:")
}
