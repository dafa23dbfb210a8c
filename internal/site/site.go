// Package site defines the contract between the harvest core and per-source
// adapters, plus a registry of adapter factories.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/record"
)

// ErrUnknownAdapter is returned for names with no registered factory.
var ErrUnknownAdapter = errors.New("site: unknown adapter")

// Harvester is the part of harvest.Harvester adapters depend on.
type Harvester interface {
	FetchAll(ctx context.Context, targets []harvest.Target, opts harvest.Options) harvest.Batch
}

// Adapter turns one source's pages into records for one table.
type Adapter interface {
	Name() string
	Table() record.Table
	NaturalKey() record.NaturalKey
	// Discover resolves the source's index pages into detail targets.
	Discover(ctx context.Context, h Harvester) ([]harvest.Target, error)
	// Extract must be pure: the same Result always yields the same record.
	Extract(res harvest.Result) record.RawRecord
	IsComplete(raw record.RawRecord) bool
}

// MultiExtractor is implemented by adapters whose pages hold many records.
type MultiExtractor interface {
	ExtractAll(res harvest.Result) []record.RawRecord
}

// ExtractAll returns every record a result yields for a.
func ExtractAll(a Adapter, res harvest.Result) []record.RawRecord {
	if m, ok := a.(MultiExtractor); ok {
		return m.ExtractAll(res)
	}
	if raw := a.Extract(res); len(raw) > 0 {
		return []record.RawRecord{raw}
	}
	return nil
}

// Document parses an HTML result.
func Document(res harvest.Result) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", res.URL, err)
	}
	return doc, nil
}

// Clock supplies the current time to adapters that infer dates.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps are handed to every adapter factory.
type Deps struct {
	Clock   Clock
	Logger  *zap.Logger
	Options harvest.Options
}

// WithDefaults fills nil dependencies.
func (d Deps) WithDefaults() Deps {
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Factory builds an adapter.
type Factory func(Deps) Adapter

// Registry maps adapter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("site: register requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("site: adapter %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named adapter.
func (r *Registry) New(name string, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, name)
	}
	return f(deps.WithDefaults()), nil
}

// Build builds every named adapter, or all registered ones when names is empty.
func (r *Registry) Build(names []string, deps Deps) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.New(name, deps)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
