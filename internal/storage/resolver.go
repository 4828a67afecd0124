package storage

import (
	"context"
	"database/sql"

	"github.com/openveris/nazk-harvester/pkg/declaration"
)

// resolveFamilyMember decides whether a family member is an already-known
// person. The match key is exact equality on tax number if present, else
// exact equality on unzr if present, else no match. Name-only matching is
// excluded as a source of false merges. Returns the matched person id or nil.
//
// A tax-number match and an unzr match pointing at two different persons is
// structurally impossible under the registry's uniqueness invariants; seeing
// one means corrupt data and is reported as an integrity error, never
// silently resolved.
func resolveFamilyMember(ctx context.Context, tx *sql.Tx, documentID string, m declaration.FamilyMember) (*string, error) {
	var byTax, byUNZR *Person
	var err error

	if m.TaxNumber != nil {
		byTax, err = findPersonByTaxNumber(ctx, tx, *m.TaxNumber)
		if err != nil {
			return nil, err
		}
	}
	if m.UNZR != nil {
		byUNZR, err = findPersonByUNZR(ctx, tx, *m.UNZR)
		if err != nil {
			return nil, err
		}
	}

	if byTax != nil && byUNZR != nil && byTax.ID != byUNZR.ID {
		return nil, &IntegrityError{
			DocumentID: documentID,
			Detail:     "family member identifiers match two distinct persons",
		}
	}

	if byTax != nil {
		return &byTax.ID, nil
	}
	if byUNZR != nil {
		return &byUNZR.ID, nil
	}
	return nil, nil
}
