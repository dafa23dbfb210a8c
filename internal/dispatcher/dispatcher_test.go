package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/pipeline"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
)

type namedAdapter string

func (n namedAdapter) Name() string                  { return string(n) }
func (n namedAdapter) Table() record.Table           { return record.Table{Name: string(n)} }
func (n namedAdapter) NaturalKey() record.NaturalKey { return record.NaturalKey{"name"} }
func (n namedAdapter) Discover(context.Context, site.Harvester) ([]harvest.Target, error) {
	return nil, nil
}
func (n namedAdapter) Extract(harvest.Result) record.RawRecord { return nil }
func (n namedAdapter) IsComplete(record.RawRecord) bool        { return false }

type fakeRunner struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	calls    atomic.Int32
	fail     map[string]error
}

func (f *fakeRunner) Run(_ context.Context, a site.Adapter) (pipeline.Summary, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return pipeline.Summary{Adapter: a.Name()}, f.fail[a.Name()]
}

func TestRunKeepsAdapterOrder(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	adapters := []site.Adapter{namedAdapter("a"), namedAdapter("b"), namedAdapter("c"), namedAdapter("d")}
	summaries, err := New(runner, adapters, 2).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summaries, 4)
	for i, a := range adapters {
		assert.Equal(t, a.Name(), summaries[i].Adapter)
	}
	assert.LessOrEqual(t, runner.peak, 2)
}

func TestRunJoinsFailuresWithoutCancelling(t *testing.T) {
	t.Parallel()

	errB := errors.New("b broke")
	errD := errors.New("d broke")
	runner := &fakeRunner{fail: map[string]error{"b": errB, "d": errD}}
	adapters := []site.Adapter{namedAdapter("a"), namedAdapter("b"), namedAdapter("c"), namedAdapter("d")}

	summaries, err := New(runner, adapters, 1).Run(context.Background())
	require.ErrorIs(t, err, errB)
	require.ErrorIs(t, err, errD)
	assert.Equal(t, int32(4), runner.calls.Load())
	assert.Equal(t, "c", summaries[2].Adapter)
	assert.Equal(t, 1, runner.peak)
}

func TestNewDefaultsParallel(t *testing.T) {
	t.Parallel()

	d := New(&fakeRunner{}, []site.Adapter{namedAdapter("a")}, 0)
	assert.Equal(t, DefaultParallel, d.parallel)
	assert.Len(t, d.Adapters(), 1)

	summaries, err := New(&fakeRunner{}, nil, 3).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
