package metrics

import "github.com/CMoncur/proto-scrape/internal/harvest"

// HarvestObserver reports harvest outcomes to the fetch collectors.
type HarvestObserver struct{}

// NewHarvestObserver initializes collectors and returns an observer.
func NewHarvestObserver() HarvestObserver {
	Init()
	return HarvestObserver{}
}

// ObserveFetch implements harvest.Observer.
func (HarvestObserver) ObserveFetch(res harvest.Result) {
	ObserveFetch(res.URL, string(res.ContentKind), len(res.Content), res.Duration)
}

// ObserveRetry implements harvest.Observer.
func (HarvestObserver) ObserveRetry(target harvest.Target, _ int, _ error) {
	ObserveRetry(target.URL)
}
