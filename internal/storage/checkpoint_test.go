package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/openveris/nazk-harvester/pkg/partition"
)

func assignmentColumns() []string {
	return []string{
		"worker_id", "page_start", "page_end", "last_completed_page",
		"status", "started_at", "updated_at", "completed_at",
	}
}

func TestClaimFreshAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM checkpoint_assignments").
		WithArgs("worker-0").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO checkpoint_assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewCheckpointStore(db)
	a, err := store.Claim(context.Background(), "worker-0", partition.Range{First: 1, Last: 25})
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if a.NextPage() != 1 {
		t.Errorf("NextPage() = %d, want 1", a.NextPage())
	}
	if a.Status != StatusActive {
		t.Errorf("Status = %s, want %s", a.Status, StatusActive)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimResumesActiveOverlappingAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM checkpoint_assignments").
		WithArgs("worker-0").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()).
			AddRow("worker-0", 1, 25, 12, "active", now, now, nil))

	store := NewCheckpointStore(db)
	a, err := store.Claim(context.Background(), "worker-0", partition.Range{First: 1, Last: 25})
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if a.NextPage() != 13 {
		t.Errorf("NextPage() = %d, want 13 (resume after last completed page)", a.NextPage())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimReplacesCompletedAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM checkpoint_assignments").
		WithArgs("worker-0").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()).
			AddRow("worker-0", 1, 25, 25, "completed", now, now, now))
	mock.ExpectExec("INSERT INTO checkpoint_assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewCheckpointStore(db)
	a, err := store.Claim(context.Background(), "worker-0", partition.Range{First: 26, Last: 50})
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if a.NextPage() != 26 {
		t.Errorf("NextPage() = %d, want 26 (fresh claim)", a.NextPage())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAdvance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE checkpoint_assignments").
		WithArgs("worker-0", 5, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewCheckpointStore(db)
	if err := store.Advance(context.Background(), "worker-0", 5); err != nil {
		t.Errorf("Advance() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAdvanceRejectsStaleProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE checkpoint_assignments").
		WithArgs("worker-0", 3, "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewCheckpointStore(db)
	if err := store.Advance(context.Background(), "worker-0", 3); err == nil {
		t.Error("Advance() expected error when no active assignment is behind the page")
	}
}

func TestCompleteAndFail(t *testing.T) {
	tests := []struct {
		name   string
		status string
		call   func(*CheckpointStore, context.Context) error
	}{
		{
			name:   "complete",
			status: "completed",
			call: func(s *CheckpointStore, ctx context.Context) error {
				return s.Complete(ctx, "worker-0")
			},
		},
		{
			name:   "fail",
			status: "failed",
			call: func(s *CheckpointStore, ctx context.Context) error {
				return s.Fail(ctx, "worker-0")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New() error = %v", err)
			}
			defer db.Close()

			mock.ExpectExec("UPDATE checkpoint_assignments").
				WithArgs("worker-0", tt.status, "active").
				WillReturnResult(sqlmock.NewResult(0, 1))

			store := NewCheckpointStore(db)
			if err := tt.call(store, context.Background()); err != nil {
				t.Errorf("%s error = %v", tt.name, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}
