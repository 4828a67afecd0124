package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestFullNameKey(t *testing.T) {
	tests := []struct {
		name                            string
		lastname, firstname, middlename *string
		want                            string
	}{
		{
			name:     "all parts",
			lastname: strPtr("Шевченко"), firstname: strPtr("Тарас"), middlename: strPtr("Григорович"),
			want: "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ",
		},
		{
			name:     "missing middlename",
			lastname: strPtr("Франко"), firstname: strPtr("Іван"),
			want: "ФРАНКО ІВАН",
		},
		{
			name:     "whitespace trimmed",
			lastname: strPtr("  Українка  "), firstname: strPtr("Леся"),
			want: "УКРАЇНКА ЛЕСЯ",
		},
		{
			name: "all absent",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fullNameKey(tt.lastname, tt.firstname, tt.middlename); got != tt.want {
				t.Errorf("fullNameKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBackfillFamilyLinks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE family_members SET person_id").
		WithArgs("55555555-5555-5555-5555-555555555555", "9876543210", nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	tx := beginTx(t, db)
	linked, err := backfillFamilyLinks(context.Background(), tx,
		"55555555-5555-5555-5555-555555555555", strPtr("9876543210"), nil)
	if err != nil {
		t.Fatalf("backfillFamilyLinks() error = %v", err)
	}
	if linked != 2 {
		t.Errorf("backfillFamilyLinks() linked = %d, want 2", linked)
	}
}

func TestBackfillFamilyLinksReportsRowCountError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE family_members SET person_id").
		WithArgs("55555555-5555-5555-5555-555555555555", "9876543210", nil).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver: rows affected unavailable")))

	tx := beginTx(t, db)
	_, err = backfillFamilyLinks(context.Background(), tx,
		"55555555-5555-5555-5555-555555555555", strPtr("9876543210"), nil)
	if err == nil {
		t.Fatal("backfillFamilyLinks() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rows affected unavailable") {
		t.Errorf("backfillFamilyLinks() error = %v, want wrapped driver error", err)
	}
}

func TestBackfillFamilyLinksSkipsWithoutIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()

	tx := beginTx(t, db)
	linked, err := backfillFamilyLinks(context.Background(), tx,
		"55555555-5555-5555-5555-555555555555", nil, nil)
	if err != nil {
		t.Fatalf("backfillFamilyLinks() error = %v", err)
	}
	if linked != 0 {
		t.Errorf("backfillFamilyLinks() linked = %d, want 0", linked)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected queries: %v", err)
	}
}
