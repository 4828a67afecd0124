package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// IntegrityError reports a data-integrity conflict: a uniqueness violation
// on something other than the idempotency key, or an ambiguous entity
// resolution. The record's write is rolled back and not retried, since an
// unchanged payload reproduces the same conflict.
type IntegrityError struct {
	DocumentID string
	Constraint string
	Detail     string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("integrity violation on %s for document %s: %s",
			e.Constraint, e.DocumentID, e.Detail)
	}
	return fmt.Sprintf("integrity violation for document %s: %s", e.DocumentID, e.Detail)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// asIntegrityError converts a Postgres unique violation into an
// IntegrityError. Returns nil for anything else.
func asIntegrityError(documentID string, err error) *IntegrityError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	if string(pqErr.Code) != uniqueViolation {
		return nil
	}
	return &IntegrityError{
		DocumentID: documentID,
		Constraint: pqErr.Constraint,
		Detail:     pqErr.Detail,
		Err:        err,
	}
}
