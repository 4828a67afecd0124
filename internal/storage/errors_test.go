package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
)

func TestAsIntegrityError(t *testing.T) {
	uniqueErr := &pq.Error{
		Code:       pq.ErrorCode("23505"),
		Constraint: "persons_tax_number_key",
		Detail:     "Key (tax_number)=(123) already exists.",
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: uniqueErr, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert person: %w", uniqueErr), want: true},
		{name: "other postgres error", err: &pq.Error{Code: pq.ErrorCode("23503")}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := asIntegrityError("doc-1", tt.err)
			if (got != nil) != tt.want {
				t.Fatalf("asIntegrityError() = %v, want match %v", got, tt.want)
			}
			if got != nil {
				if got.DocumentID != "doc-1" {
					t.Errorf("DocumentID = %q, want doc-1", got.DocumentID)
				}
				if got.Constraint != "persons_tax_number_key" {
					t.Errorf("Constraint = %q, want persons_tax_number_key", got.Constraint)
				}
				if !errors.Is(got, tt.err) && !errors.As(got.Err, new(*pq.Error)) {
					t.Error("IntegrityError must wrap the original error")
				}
			}
		})
	}
}

func TestIntegrityErrorMessage(t *testing.T) {
	err := &IntegrityError{
		DocumentID: "doc-1",
		Constraint: "persons_unzr_key",
		Detail:     "Key (unzr)=(x) already exists.",
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty message")
	}
	for _, want := range []string{"doc-1", "persons_unzr_key"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to mention %q", msg, want)
		}
	}
}
