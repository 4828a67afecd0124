package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openveris/nazk-harvester/pkg/logging"
	"github.com/openveris/nazk-harvester/pkg/partition"
)

// AssignmentStatus is the lifecycle state of a worker's page assignment.
type AssignmentStatus string

const (
	// StatusActive means the worker is still processing its range.
	StatusActive AssignmentStatus = "active"

	// StatusCompleted means the whole range has been processed.
	StatusCompleted AssignmentStatus = "completed"

	// StatusFailed means the worker gave up before finishing the range.
	StatusFailed AssignmentStatus = "failed"
)

// Assignment is a worker's claimed page range together with its progress.
// LastCompletedPage is Range.First-1 until the first page finishes.
type Assignment struct {
	WorkerID          string
	Range             partition.Range
	LastCompletedPage int
	Status            AssignmentStatus
	StartedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NextPage returns the first page the worker still has to process.
func (a Assignment) NextPage() int {
	return a.LastCompletedPage + 1
}

// Done reports whether every page of the range has been completed.
func (a Assignment) Done() bool {
	return a.LastCompletedPage >= a.Range.Last
}

// CheckpointStore persists per-worker page progress so an interrupted run
// resumes where it stopped instead of starting over.
type CheckpointStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewCheckpointStore creates a checkpoint store on the given database.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{
		db:     db,
		logger: logging.NewLogger("checkpoint"),
	}
}

// Claim registers the worker's page range. If an active assignment for the
// same worker overlaps the requested range, it is resumed from its recorded
// progress. Otherwise a fresh assignment replaces whatever the worker had
// before.
func (s *CheckpointStore) Claim(ctx context.Context, workerID string, r partition.Range) (Assignment, error) {
	existing, err := s.lookup(ctx, workerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, err
	}

	if err == nil && existing.Status == StatusActive && existing.Range.Overlaps(r) {
		s.logger.Info().
			Str("worker_id", workerID).
			Int("page_start", existing.Range.First).
			Int("page_end", existing.Range.Last).
			Int("next_page", existing.NextPage()).
			Msg("Resuming existing assignment")
		return existing, nil
	}

	now := time.Now().UTC()
	a := Assignment{
		WorkerID:          workerID,
		Range:             r,
		LastCompletedPage: r.First - 1,
		Status:            StatusActive,
		StartedAt:         now,
		UpdatedAt:         now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_assignments (
			worker_id, page_start, page_end, last_completed_page,
			status, started_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6, NULL)
		ON CONFLICT (worker_id) DO UPDATE SET
			page_start = EXCLUDED.page_start,
			page_end = EXCLUDED.page_end,
			last_completed_page = EXCLUDED.last_completed_page,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = NULL`,
		workerID, r.First, r.Last, a.LastCompletedPage, StatusActive, now)
	if err != nil {
		return Assignment{}, fmt.Errorf("claim assignment for %s: %w", workerID, err)
	}

	s.logger.Info().
		Str("worker_id", workerID).
		Int("page_start", r.First).
		Int("page_end", r.Last).
		Msg("Claimed fresh assignment")
	return a, nil
}

// Advance records that the worker finished the given page. Progress must be
// monotonic; a stale or out-of-order page number is rejected.
func (s *CheckpointStore) Advance(ctx context.Context, workerID string, page int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoint_assignments
		 SET last_completed_page = $2, updated_at = NOW()
		 WHERE worker_id = $1 AND status = $3 AND last_completed_page < $2`,
		workerID, page, StatusActive)
	if err != nil {
		return fmt.Errorf("advance %s to page %d: %w", workerID, page, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance %s to page %d: %w", workerID, page, err)
	}
	if affected == 0 {
		return fmt.Errorf("advance %s to page %d: no active assignment behind that page", workerID, page)
	}
	return nil
}

// Complete marks the worker's assignment finished.
func (s *CheckpointStore) Complete(ctx context.Context, workerID string) error {
	if err := s.finish(ctx, workerID, StatusCompleted); err != nil {
		return err
	}
	s.logger.Info().Str("worker_id", workerID).Msg("Assignment completed")
	return nil
}

// Fail marks the worker's assignment failed, preserving its progress so a
// later run can resume from the last completed page.
func (s *CheckpointStore) Fail(ctx context.Context, workerID string) error {
	if err := s.finish(ctx, workerID, StatusFailed); err != nil {
		return err
	}
	s.logger.Warn().Str("worker_id", workerID).Msg("Assignment failed")
	return nil
}

func (s *CheckpointStore) finish(ctx context.Context, workerID string, status AssignmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoint_assignments
		 SET status = $2, updated_at = NOW(), completed_at = NOW()
		 WHERE worker_id = $1 AND status = $3`,
		workerID, status, StatusActive)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", workerID, status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", workerID, status, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark %s %s: no active assignment", workerID, status)
	}
	return nil
}

func (s *CheckpointStore) lookup(ctx context.Context, workerID string) (Assignment, error) {
	var a Assignment
	var status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT worker_id, page_start, page_end, last_completed_page,
		        status, started_at, updated_at, completed_at
		 FROM checkpoint_assignments
		 WHERE worker_id = $1`,
		workerID).Scan(
		&a.WorkerID, &a.Range.First, &a.Range.Last, &a.LastCompletedPage,
		&status, &a.StartedAt, &a.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, err
		}
		return Assignment{}, fmt.Errorf("lookup assignment for %s: %w", workerID, err)
	}
	a.Status = AssignmentStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return a, nil
}
