// Package pipeline runs one adapter end to end: discover, harvest, extract,
// sanitize and record.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/clock/system"
	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/hash/sha256"
	"github.com/CMoncur/proto-scrape/internal/id/uuid"
	"github.com/CMoncur/proto-scrape/internal/lock"
	"github.com/CMoncur/proto-scrape/internal/metrics"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
)

// Stages reported on RunError.
const (
	StageDiscover = "discover"
	StageLock     = "lock"
	StagePersist  = "persist"
)

const archiveContentType = "text/html; charset=utf-8"

// BlobStore archives raw pages.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator names runs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock stamps run start and finish.
type Clock interface {
	Now() time.Time
}

// Hasher names archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// RunError reports the stage at which a run stopped.
type RunError struct {
	Adapter string
	Stage   string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Summary describes one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Adapter    string    `json:"adapter"`
	Table      string    `json:"table"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Targets    int       `json:"targets"`
	Fetched    int       `json:"fetched"`
	HTML       int       `json:"html"`
	Failed     int       `json:"failed"`
	Archived   int       `json:"archived"`
	Extracted  int       `json:"extracted"`
	Complete   int       `json:"complete"`
	Dropped    int       `json:"dropped"`
	// Incomplete is set when fail-fast or cancellation left targets unfetched.
	Incomplete  bool           `json:"incomplete"`
	NothingToDo bool           `json:"nothing_to_do"`
	Outcome     record.Outcome `json:"outcome"`
	Error       string         `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Runner composes a harvester and a recorder.
type Runner struct {
	harvester site.Harvester
	recorder  record.Recorder
	opts      harvest.Options

	archive       BlobStore
	archivePrefix string
	publisher     Publisher
	topic         string
	locker        lock.Locker
	ids           IDGenerator
	clock         Clock
	hasher        Hasher
	logger        *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithArchive stores every HTML page under prefix.
func WithArchive(store BlobStore, prefix string) Option {
	return func(r *Runner) {
		r.archive = store
		r.archivePrefix = strings.Trim(prefix, "/")
	}
}

// WithPublisher publishes each Summary to topic.
func WithPublisher(p Publisher, topic string) Option {
	return func(r *Runner) {
		r.publisher = p
		r.topic = topic
	}
}

// WithLocker serializes upserts per destination table.
func WithLocker(l lock.Locker) Option {
	return func(r *Runner) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithClock replaces the clock.
func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithHasher replaces the archive path hasher.
func WithHasher(h Hasher) Option {
	return func(r *Runner) {
		if h != nil {
			r.hasher = h
		}
	}
}

// WithHarvestOptions sets the options used for detail fetches.
func WithHarvestOptions(o harvest.Options) Option {
	return func(r *Runner) { r.opts = o }
}

// New builds a Runner.
func New(h site.Harvester, rec record.Recorder, opts ...Option) *Runner {
	metrics.Init()
	r := &Runner{
		harvester: h,
		recorder:  rec,
		locker:    lock.Noop{},
		ids:       uuid.New(),
		clock:     system.New(),
		hasher:    sha256.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one adapter. Fetch failures and incomplete records are counted
// on the Summary; only discovery, locking and persistence failures are
// returned, as *RunError.
func (r *Runner) Run(ctx context.Context, a site.Adapter) (sum Summary, err error) {
	table := a.Table()
	sum = Summary{
		RunID:     r.newRunID(),
		Adapter:   a.Name(),
		Table:     table.Name,
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.With(zap.String("adapter", sum.Adapter), zap.String("run_id", sum.RunID))

	defer func() {
		sum.FinishedAt = r.clock.Now()
		status := "succeeded"
		switch {
		case err != nil:
			status = "failed"
			sum.Error = err.Error()
		case sum.NothingToDo:
			status = "empty"
		}
		metrics.ObserveRun(sum.Adapter, status, sum.Duration())
		r.publish(ctx, logger, sum)
		logger.Info("run finished",
			zap.String("status", status),
			zap.Int("targets", sum.Targets),
			zap.Int("failed", sum.Failed),
			zap.Int("complete", sum.Complete),
			zap.Int("dropped", sum.Dropped),
			zap.Int("inserted", sum.Outcome.Inserted),
			zap.Int("updated", sum.Outcome.Updated),
			zap.Duration("duration", sum.Duration()),
		)
	}()

	targets, err := a.Discover(ctx, r.harvester)
	if err != nil {
		return sum, &RunError{Adapter: sum.Adapter, Stage: StageDiscover, Err: err}
	}
	sum.Targets = len(targets)
	if len(targets) == 0 {
		sum.NothingToDo = true
		return sum, nil
	}

	batch := r.harvester.FetchAll(ctx, targets, r.opts)
	sum.Fetched = batch.Len()
	sum.Incomplete = batch.Incomplete
	sum.Failed = len(batch.Failed())
	pages := batch.HTML()
	sum.HTML = len(pages)
	sum.Archived = r.archivePages(ctx, logger, sum, pages)

	records := r.extract(logger, a, pages, &sum)
	if len(records) == 0 {
		sum.NothingToDo = true
		return sum, nil
	}

	outcome, err := r.record(ctx, logger, a, records)
	if err != nil {
		return sum, err
	}
	sum.Outcome = outcome
	metrics.ObserveUpsert(outcome.Table, outcome.Inserted, outcome.Updated)
	return sum, nil
}

func (r *Runner) extract(logger *zap.Logger, a site.Adapter, pages []harvest.Result, sum *Summary) []record.Record {
	table := a.Table()
	var records []record.Record
	for _, page := range pages {
		for _, raw := range site.ExtractAll(a, page) {
			sum.Extracted++
			if !a.IsComplete(raw) {
				sum.Dropped++
				logger.Debug("incomplete record dropped", zap.String("url", page.URL))
				continue
			}
			rec, err := table.Sanitize(raw)
			if err != nil {
				sum.Dropped++
				logger.Debug("record failed sanitization", zap.String("url", page.URL), zap.Error(err))
				continue
			}
			records = append(records, rec)
		}
	}
	sum.Complete = len(records)
	metrics.ObserveRecords(sum.Adapter, "extracted", sum.Extracted)
	metrics.ObserveRecords(sum.Adapter, "complete", sum.Complete)
	metrics.ObserveRecords(sum.Adapter, "dropped", sum.Dropped)
	return records
}

func (r *Runner) record(ctx context.Context, logger *zap.Logger, a site.Adapter, records []record.Record) (record.Outcome, error) {
	table := a.Table()
	release, err := r.locker.Acquire(ctx, table.Name)
	if err != nil {
		return record.Outcome{}, &RunError{Adapter: a.Name(), Stage: StageLock, Err: err}
	}
	outcome, err := r.recorder.Upsert(ctx, table, a.NaturalKey(), records)
	if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
		logger.Warn("release destination lock", zap.String("table", table.Name), zap.Error(relErr))
	}
	if err != nil {
		logger.Error("upsert failed", zap.String("table", table.Name), zap.Int("records", len(records)), zap.Error(err))
		return record.Outcome{}, &RunError{Adapter: a.Name(), Stage: StagePersist, Err: err}
	}
	return outcome, nil
}

// archivePages stores HTML bodies. Failures are logged and never fail the run.
func (r *Runner) archivePages(ctx context.Context, logger *zap.Logger, sum Summary, pages []harvest.Result) int {
	if r.archive == nil {
		return 0
	}
	stored := 0
	for _, page := range pages {
		digest, err := r.hasher.Hash(page.Content)
		if err != nil {
			logger.Warn("hash page", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		path := r.archivePath(sum, digest)
		uri, err := r.archive.PutObject(ctx, path, archiveContentType, bytes.NewReader(page.Content))
		if err != nil {
			logger.Warn("archive page", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		stored++
		logger.Debug("page archived", zap.String("url", page.URL), zap.String("uri", uri))
	}
	return stored
}

func (r *Runner) archivePath(sum Summary, digest string) string {
	base := fmt.Sprintf("%s/%s/%s.html", sum.Adapter, sum.RunID, digest)
	if r.archivePrefix == "" {
		return base
	}
	return r.archivePrefix + "/" + base
}

func (r *Runner) publish(ctx context.Context, logger *zap.Logger, sum Summary) {
	if r.publisher == nil || r.topic == "" {
		return
	}
	id, err := r.publisher.Publish(context.WithoutCancel(ctx), r.topic, sum)
	if err != nil {
		logger.Warn("publish summary", zap.String("topic", r.topic), zap.Error(err))
		return
	}
	logger.Debug("summary published", zap.String("message_id", id))
}

func (r *Runner) newRunID() string {
	id, err := r.ids.NewID()
	if err != nil {
		return fmt.Sprintf("run-%d", r.clock.Now().UnixNano())
	}
	return id
}

// IsPersistence reports whether err came from the destination store.
func IsPersistence(err error) bool {
	return errors.Is(err, record.ErrPersistence)
}
