package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CMoncur/proto-scrape/internal/clock/system"
	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/lock"
	pubmemory "github.com/CMoncur/proto-scrape/internal/publisher/memory"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/storage/memory"
)

var runStart = time.Date(2018, time.February, 1, 12, 0, 0, 0, time.UTC)

// pageHarvester serves canned pages; a URL with no page fails with 404.
type pageHarvester struct {
	pages      map[string]string
	incomplete bool
}

func (h pageHarvester) FetchAll(_ context.Context, targets []harvest.Target, _ harvest.Options) harvest.Batch {
	batch := harvest.Batch{Incomplete: h.incomplete}
	for _, t := range targets {
		body, ok := h.pages[t.URL]
		if !ok {
			batch.Results = append(batch.Results, harvest.Result{
				Target:      t,
				StatusCode:  404,
				ContentKind: harvest.KindFailed,
				Err:         &harvest.StatusError{StatusCode: 404},
				Attempts:    1,
			})
			continue
		}
		batch.Results = append(batch.Results, harvest.Result{
			Target:      t,
			Succeeded:   true,
			StatusCode:  200,
			ContentKind: harvest.KindHTML,
			Content:     []byte(body),
			Attempts:    1,
		})
	}
	return batch
}

// lineAdapter reads "name|raised" lines; the index lists one detail URL per line.
type lineAdapter struct {
	index       string
	discoverErr error
}

func (lineAdapter) Name() string { return "lines" }

func (lineAdapter) Table() record.Table {
	return record.Table{Name: "sales", Columns: []record.Column{
		{Name: "name", Kind: record.String, Required: true},
		{Name: "raised", Kind: record.Float},
	}}
}

func (lineAdapter) NaturalKey() record.NaturalKey { return record.NaturalKey{"name"} }

func (a lineAdapter) Discover(ctx context.Context, h site.Harvester) ([]harvest.Target, error) {
	if a.discoverErr != nil {
		return nil, a.discoverErr
	}
	batch := h.FetchAll(ctx, harvest.NewTargets("index", a.index), harvest.Options{})
	pages := batch.HTML()
	if len(pages) == 0 {
		return nil, nil
	}
	return harvest.NewTargets("detail", strings.Fields(string(pages[0].Content))...), nil
}

func (lineAdapter) Extract(res harvest.Result) record.RawRecord {
	name, raised, _ := strings.Cut(string(res.Content), "|")
	raw := record.RawRecord{}
	raw.Set("name", strings.TrimSpace(name), strings.TrimSpace(name) != "")
	if raised != "" {
		raw.Set("raised", 1.5, true)
	}
	return raw
}

func (a lineAdapter) IsComplete(raw record.RawRecord) bool { return a.Table().IsComplete(raw) }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

func newHarvester() pageHarvester {
	return pageHarvester{pages: map[string]string{
		"https://ico.test/":   "https://ico.test/a https://ico.test/b https://ico.test/c https://ico.test/gone",
		"https://ico.test/a":  "Alpha|1.5",
		"https://ico.test/b":  "Beta",
		"https://ico.test/c":  "|9",
	}}
}

func TestRunRecordsCompleteRecords(t *testing.T) {
	t.Parallel()

	rec := memory.NewRecorder(func() time.Time { return runStart })
	archive := memory.NewBlobStore()
	pub := pubmemory.New()
	runner := New(newHarvester(), rec,
		WithClock(system.Fixed(runStart)),
		WithIDGenerator(fixedIDs{}),
		WithArchive(archive, "/raw/"),
		WithPublisher(pub, "runs"),
		WithLocker(lock.NewLocal()),
	)

	sum, err := runner.Run(context.Background(), lineAdapter{index: "https://ico.test/"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, "lines", sum.Adapter)
	assert.Equal(t, "sales", sum.Table)
	assert.Equal(t, 4, sum.Targets)
	assert.Equal(t, 4, sum.Fetched)
	assert.Equal(t, 3, sum.HTML)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Archived)
	assert.Equal(t, 3, sum.Extracted)
	assert.Equal(t, 2, sum.Complete)
	assert.Equal(t, 1, sum.Dropped)
	assert.False(t, sum.NothingToDo)
	assert.Equal(t, record.Outcome{Table: "sales", Inserted: 2}, sum.Outcome)
	assert.Equal(t, runStart, sum.StartedAt)

	rows := rec.Rows("sales")
	require.Len(t, rows, 2)
	assert.Equal(t, "Alpha", rows[0].Values["name"])
	assert.Equal(t, 1.5, rows[0].Values["raised"])
	assert.Nil(t, rows[1].Values["raised"])

	assert.Equal(t, 3, archive.Len())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	var published Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &published))
	assert.Equal(t, sum.RunID, published.RunID)
	assert.Equal(t, 2, published.Outcome.Inserted)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	rec := memory.NewRecorder(nil)
	runner := New(newHarvester(), rec)
	adapter := lineAdapter{index: "https://ico.test/"}

	_, err := runner.Run(context.Background(), adapter)
	require.NoError(t, err)
	sum, err := runner.Run(context.Background(), adapter)
	require.NoError(t, err)

	assert.Equal(t, record.Outcome{Table: "sales", Updated: 2}, sum.Outcome)
	assert.Len(t, rec.Rows("sales"), 2)
}

func TestRunNothingToDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		pages map[string]string
	}{
		{name: "no targets", pages: map[string]string{}},
		{name: "no complete records", pages: map[string]string{
			"https://ico.test/":  "https://ico.test/c",
			"https://ico.test/c": "|",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := new(record.MockRecorder)
			runner := New(pageHarvester{pages: tt.pages}, rec)
			sum, err := runner.Run(context.Background(), lineAdapter{index: "https://ico.test/"})
			require.NoError(t, err)
			assert.True(t, sum.NothingToDo)
			rec.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRunDiscoverFailure(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	runner := New(newHarvester(), new(record.MockRecorder), WithPublisher(pub, "runs"))
	sum, err := runner.Run(context.Background(), lineAdapter{discoverErr: errors.New("index moved")})

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageDiscover, runErr.Stage)
	assert.Equal(t, "lines", runErr.Adapter)
	assert.Contains(t, sum.Error, "index moved")
	require.Len(t, pub.Messages(), 1, "failed runs are still announced")
}

func TestRunPersistenceFailure(t *testing.T) {
	t.Parallel()

	rec := new(record.MockRecorder)
	storeErr := &record.PersistenceError{Table: "sales", Records: 2, Err: errors.New("connection reset")}
	rec.On("Upsert", mock.Anything, mock.Anything, record.NaturalKey{"name"}, mock.MatchedBy(func(rs []record.Record) bool {
		return len(rs) == 2
	})).Return(record.Outcome{}, storeErr)

	runner := New(newHarvester(), rec)
	sum, err := runner.Run(context.Background(), lineAdapter{index: "https://ico.test/"})

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StagePersist, runErr.Stage)
	assert.True(t, IsPersistence(err))
	assert.Equal(t, 2, sum.Complete)
	assert.Zero(t, sum.Outcome.Total())
	rec.AssertExpectations(t)
}

func TestRunLockTimeout(t *testing.T) {
	t.Parallel()

	locker := lock.NewLocal()
	held, err := locker.Acquire(context.Background(), "sales")
	require.NoError(t, err)
	defer func() { _ = held(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	runner := New(newHarvester(), new(record.MockRecorder), WithLocker(locker))
	_, err = runner.Run(ctx, lineAdapter{index: "https://ico.test/"})

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageLock, runErr.Stage)
	require.ErrorIs(t, err, lock.ErrNotAcquired)
}

func TestRunReportsIncompleteBatch(t *testing.T) {
	t.Parallel()

	h := newHarvester()
	h.incomplete = true
	sum, err := New(h, memory.NewRecorder(nil)).Run(context.Background(), lineAdapter{index: "https://ico.test/"})
	require.NoError(t, err)
	assert.True(t, sum.Incomplete)
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	sum := Summary{Adapter: "icodrops", RunID: "r1"}
	assert.Equal(t, "icodrops/r1/abc.html", New(nil, nil).archivePath(sum, "abc"))
	assert.Equal(t, "raw/icodrops/r1/abc.html", New(nil, nil, WithArchive(nil, "/raw/")).archivePath(sum, "abc"))
}
