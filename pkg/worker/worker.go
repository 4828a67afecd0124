// Package worker drives the harvest: each worker walks its claimed page
// range, lists declaration summaries, filters already-seen documents,
// fetches and parses the remaining details concurrently and commits them
// one declaration per transaction.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openveris/nazk-harvester/internal/storage"
	"github.com/openveris/nazk-harvester/pkg/declaration"
	"github.com/openveris/nazk-harvester/pkg/logging"
	"github.com/openveris/nazk-harvester/pkg/nazk"
	"github.com/openveris/nazk-harvester/pkg/partition"
)

var (
	pagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_pages_processed_total",
		Help: "Total result pages fully processed",
	})

	pagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_pages_skipped_total",
		Help: "Pages skipped because their listing could not be fetched",
	})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_records_total",
		Help: "Records handled per page processing, by result",
	}, []string{"result"}) // "committed", "duplicate", "failed"

	pageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_page_duration_seconds",
		Help:    "Wall time spent processing one result page",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
)

// Fetcher lists declaration summaries and fetches full documents.
type Fetcher interface {
	Search(ctx context.Context, filters nazk.SearchFilters, page int) ([]nazk.Summary, bool, error)
	FetchDetail(ctx context.Context, documentID string) (json.RawMessage, error)
}

// DedupCache answers whether a document was already ingested and records
// new ones after commit.
type DedupCache interface {
	Seen(ctx context.Context, documentID string) (bool, error)
	MarkSeen(ctx context.Context, documentID string) error
}

// Committer persists one parsed declaration atomically.
type Committer interface {
	Commit(ctx context.Context, rec *declaration.Record) (storage.CommitOutcome, error)
}

// Checkpointer tracks per-worker page progress across runs.
type Checkpointer interface {
	Claim(ctx context.Context, workerID string, r partition.Range) (storage.Assignment, error)
	Advance(ctx context.Context, workerID string, page int) error
	Complete(ctx context.Context, workerID string) error
	Fail(ctx context.Context, workerID string) error
}

// Stats are the in-memory counters of one worker, safe for concurrent reads
// while the worker runs.
type Stats struct {
	PagesProcessed    atomic.Int64
	PagesSkipped      atomic.Int64
	RecordsFetched    atomic.Int64
	RecordsCommitted  atomic.Int64
	DuplicatesSkipped atomic.Int64
	RecordsFailed     atomic.Int64
	CurrentPage       atomic.Int64
}

// Config tunes one worker.
type Config struct {
	// WorkerID names the worker for checkpointing and logs.
	WorkerID string

	// Filters restricts which declarations the search lists.
	Filters nazk.SearchFilters

	// FetchConcurrency bounds concurrent detail fetches per page.
	// Defaults to 4 when non-positive.
	FetchConcurrency int
}

// Worker processes one page range end to end.
type Worker struct {
	cfg        Config
	fetcher    Fetcher
	dedup      DedupCache
	committer  Committer
	checkpoint Checkpointer
	logger     zerolog.Logger
	stats      Stats
}

// New creates a worker from its collaborators.
func New(cfg Config, fetcher Fetcher, dedup DedupCache, committer Committer, checkpoint Checkpointer) *Worker {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	return &Worker{
		cfg:        cfg,
		fetcher:    fetcher,
		dedup:      dedup,
		committer:  committer,
		checkpoint: checkpoint,
		logger:     logging.NewLogger("worker").With().Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Stats exposes the worker's live counters.
func (w *Worker) Stats() *Stats {
	return &w.stats
}

// Run claims the range, processes every remaining page in ascending order
// and marks the assignment completed. Per-record fetch, parse and integrity
// failures are logged and skipped; a page whose listing cannot be fetched
// within the retry budget is checkpointed and skipped so the scan continues.
// Only a rejected search, meaning the configured filters themselves are
// invalid, marks the assignment failed. Store errors and cancellation leave
// it active so the next run resumes after the last completed page.
func (w *Worker) Run(ctx context.Context, r partition.Range) error {
	assignment, err := w.checkpoint.Claim(ctx, w.cfg.WorkerID, r)
	if err != nil {
		return err
	}
	if assignment.Done() {
		w.logger.Info().Msg("Assignment already completed, nothing to do")
		return w.checkpoint.Complete(ctx, w.cfg.WorkerID)
	}

	for page := assignment.NextPage(); page <= assignment.Range.Last; page++ {
		w.stats.CurrentPage.Store(int64(page))

		hasMore, err := w.processPage(ctx, page)
		if err != nil {
			if isRejectedSearch(err) {
				w.logger.Error().Err(err).Int("page", page).Msg("Search rejected, assignment failed")
				if failErr := w.checkpoint.Fail(context.WithoutCancel(ctx), w.cfg.WorkerID); failErr != nil {
					w.logger.Error().Err(failErr).Msg("Failed to record assignment failure")
				}
				return err
			}
			w.logger.Error().Err(err).Int("page", page).Msg("Page processing stopped, assignment stays active")
			return err
		}

		if err := w.checkpoint.Advance(ctx, w.cfg.WorkerID, page); err != nil {
			return err
		}
		pagesProcessed.Inc()
		w.stats.PagesProcessed.Add(1)

		if !hasMore {
			w.logger.Info().Int("page", page).Msg("Source exhausted before end of range")
			break
		}
	}

	return w.checkpoint.Complete(ctx, w.cfg.WorkerID)
}

// processPage lists one page and ingests every new document on it. The
// returned bool reports whether the source has more pages.
func (w *Worker) processPage(ctx context.Context, page int) (bool, error) {
	start := time.Now()
	defer func() {
		pageDuration.Observe(time.Since(start).Seconds())
	}()

	summaries, hasMore, err := w.fetcher.Search(ctx, w.cfg.Filters, page)
	if err != nil {
		if isTerminalFetch(err) && !isRejectedSearch(err) {
			w.logger.Warn().Err(err).Int("page", page).Msg("Skipping unlistable page")
			pagesSkipped.Inc()
			w.stats.PagesSkipped.Add(1)
			return true, nil
		}
		return false, err
	}

	fresh := make([]nazk.Summary, 0, len(summaries))
	for _, s := range summaries {
		seen, err := w.dedup.Seen(ctx, s.DocumentID)
		if err != nil {
			// The cache is advisory. The document id uniqueness constraint
			// absorbs a redundant fetch, so a cache outage only costs work.
			w.logger.Warn().Err(err).Str("document_id", s.DocumentID).Msg("Dedup lookup failed, treating as fresh")
			fresh = append(fresh, s)
			continue
		}
		if seen {
			recordsTotal.WithLabelValues("duplicate").Inc()
			w.stats.DuplicatesSkipped.Add(1)
			continue
		}
		fresh = append(fresh, s)
	}

	w.logger.Info().
		Int("page", page).
		Int("listed", len(summaries)).
		Int("fresh", len(fresh)).
		Msg("Page listed")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.FetchConcurrency)
	records := make([]*declaration.Record, len(fresh))

	for i, s := range fresh {
		i, s := i, s
		g.Go(func() error {
			raw, err := w.fetcher.FetchDetail(gctx, s.DocumentID)
			if err != nil {
				if isTerminalFetch(err) {
					w.logger.Warn().Err(err).
						Str("document_id", s.DocumentID).
						Msg("Skipping unfetchable document")
					recordsTotal.WithLabelValues("failed").Inc()
					w.stats.RecordsFailed.Add(1)
					return nil
				}
				return err
			}
			w.stats.RecordsFetched.Add(1)

			rec, err := declaration.Parse(s.DocumentID, raw)
			if err != nil {
				w.logger.Warn().Err(err).
					Str("document_id", s.DocumentID).
					Msg("Skipping unparseable document")
				recordsTotal.WithLabelValues("failed").Inc()
				w.stats.RecordsFailed.Add(1)
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	// Commits run sequentially; each declaration is one transaction and an
	// integrity failure must not poison its neighbors.
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := w.commitRecord(ctx, rec); err != nil {
			return false, err
		}
	}

	return hasMore, nil
}

func (w *Worker) commitRecord(ctx context.Context, rec *declaration.Record) error {
	_, err := w.committer.Commit(ctx, rec)
	if err != nil {
		var integrity *storage.IntegrityError
		if errors.As(err, &integrity) {
			w.logger.Error().Err(err).
				Str("document_id", rec.DocumentID).
				Msg("Integrity violation, record skipped")
			recordsTotal.WithLabelValues("failed").Inc()
			w.stats.RecordsFailed.Add(1)
			return nil
		}
		return err
	}

	// Marked only after the transaction is durable. A crash between commit
	// and mark just re-fetches one document next run; the upsert absorbs it.
	if err := w.dedup.MarkSeen(ctx, rec.DocumentID); err != nil {
		w.logger.Warn().Err(err).
			Str("document_id", rec.DocumentID).
			Msg("Committed but not marked in dedup cache")
	}

	recordsTotal.WithLabelValues("committed").Inc()
	w.stats.RecordsCommitted.Add(1)
	return nil
}

// isTerminalFetch reports whether a fetch error concerns just this one
// fetch rather than the worker as a whole. Exhausting the retry budget is
// terminal for the document or page, never for the range scan.
func isTerminalFetch(err error) bool {
	if errors.Is(err, nazk.ErrNotFound) ||
		errors.Is(err, nazk.ErrMalformedResponse) ||
		errors.Is(err, nazk.ErrRetryExhausted) {
		return true
	}
	var apiErr *nazk.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorClass == nazk.ErrorClassClient
}

// isRejectedSearch reports a client-class rejection of the listing request.
// The registry refusing the search means the configured filters are invalid
// and every remaining page would fail the same way.
func isRejectedSearch(err error) bool {
	var apiErr *nazk.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorClass == nazk.ErrorClassClient
}
