package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openveris/nazk-harvester/pkg/declaration"
)

// Person is one row of the declarant registry: a unique natural person,
// deduplicated by tax number or national registry id (unzr). Created on
// first sighting, updated on every subsequent one, never deleted by the
// pipeline.
type Person struct {
	ID          string
	TaxNumber   *string
	UNZR        *string
	Lastname    *string
	Firstname   *string
	Middlename  *string
	ChangedName bool
	BirthYear   *int
	FullNameKey string
}

// fullNameKey normalizes name parts into the lookup key used when both
// identifiers are absent. Case-folded, single-spaced.
func fullNameKey(lastname, firstname, middlename *string) string {
	parts := make([]string, 0, 3)
	for _, p := range []*string{lastname, firstname, middlename} {
		if p != nil && *p != "" {
			parts = append(parts, strings.ToUpper(strings.TrimSpace(*p)))
		}
	}
	return strings.Join(parts, " ")
}

const personColumns = `id, tax_number, unzr, lastname, firstname, middlename, changed_name, birth_year, full_name_key`

func scanPerson(row *sql.Row) (*Person, error) {
	var p Person
	err := row.Scan(&p.ID, &p.TaxNumber, &p.UNZR, &p.Lastname, &p.Firstname,
		&p.Middlename, &p.ChangedName, &p.BirthYear, &p.FullNameKey)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// findPersonByTaxNumber looks a person up by exact tax number. Returns nil
// when absent.
func findPersonByTaxNumber(ctx context.Context, tx *sql.Tx, taxNumber string) (*Person, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE tax_number = $1`, taxNumber)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find person by tax number: %w", err)
	}
	return p, nil
}

// findPersonByUNZR looks a person up by exact unzr. Returns nil when absent.
func findPersonByUNZR(ctx context.Context, tx *sql.Tx, unzr string) (*Person, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE unzr = $1`, unzr)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find person by unzr: %w", err)
	}
	return p, nil
}

// findPersonByNameKey looks a person up by the normalized full-name key.
// Only used for the filer, and only when both identifiers are absent.
func findPersonByNameKey(ctx context.Context, tx *sql.Tx, key string) (*Person, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE full_name_key = $1 LIMIT 1`, key)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find person by name key: %w", err)
	}
	return p, nil
}

// getOrCreatePerson finds the filer in the registry or inserts a new row.
// Lookup order: tax number, then unzr, then (identifiers absent) the
// normalized full-name key. On a hit the sighting is recorded: name parts
// refresh, a changed surname is appended to the name history, last seen
// advances. Returns the person id and whether a row was created.
func getOrCreatePerson(ctx context.Context, tx *sql.Tx, d declaration.Declarant) (string, bool, error) {
	var found *Person
	var err error

	if d.TaxNumber != nil {
		found, err = findPersonByTaxNumber(ctx, tx, *d.TaxNumber)
		if err != nil {
			return "", false, err
		}
	}
	if found == nil && d.UNZR != nil {
		found, err = findPersonByUNZR(ctx, tx, *d.UNZR)
		if err != nil {
			return "", false, err
		}
	}
	if found == nil && d.TaxNumber == nil && d.UNZR == nil {
		if key := fullNameKey(d.Lastname, d.Firstname, d.Middlename); key != "" {
			found, err = findPersonByNameKey(ctx, tx, key)
			if err != nil {
				return "", false, err
			}
		}
	}

	if found != nil {
		if err := recordSighting(ctx, tx, found, d); err != nil {
			return "", false, err
		}
		return found.ID, false, nil
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO persons (
			id, tax_number, unzr, lastname, firstname, middlename,
			changed_name, birth_year, full_name_key, name_history,
			first_seen_at, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]'::jsonb, NOW(), NOW())`,
		id, d.TaxNumber, d.UNZR, d.Lastname, d.Firstname, d.Middlename,
		d.ChangedName, d.BirthYear, fullNameKey(d.Lastname, d.Firstname, d.Middlename))
	if err != nil {
		return "", false, fmt.Errorf("insert person: %w", err)
	}
	return id, true, nil
}

// recordSighting refreshes a known person from a new filing. A surname that
// differs from the stored one is pushed onto the name history before the
// name parts are replaced.
func recordSighting(ctx context.Context, tx *sql.Tx, existing *Person, d declaration.Declarant) error {
	nameChanged := d.Lastname != nil && existing.Lastname != nil && *d.Lastname != *existing.Lastname

	if nameChanged {
		_, err := tx.ExecContext(ctx,
			`UPDATE persons SET name_history = name_history || jsonb_build_object(
				'lastname', lastname, 'firstname', firstname, 'middlename', middlename,
				'replaced_at', NOW()
			) WHERE id = $1`, existing.ID)
		if err != nil {
			return fmt.Errorf("append name history: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET
			lastname = COALESCE($2, lastname),
			firstname = COALESCE($3, firstname),
			middlename = COALESCE($4, middlename),
			tax_number = COALESCE(tax_number, $5),
			unzr = COALESCE(unzr, $6),
			changed_name = changed_name OR $7,
			birth_year = COALESCE(birth_year, $8),
			full_name_key = CASE WHEN $2 IS NOT NULL THEN $9 ELSE full_name_key END,
			last_updated_at = NOW()
		WHERE id = $1`,
		existing.ID, d.Lastname, d.Firstname, d.Middlename, d.TaxNumber, d.UNZR,
		d.ChangedName || nameChanged, d.BirthYear,
		fullNameKey(d.Lastname, d.Firstname, d.Middlename))
	if err != nil {
		return fmt.Errorf("update person sighting: %w", err)
	}
	return nil
}

// backfillFamilyLinks retroactively links unlinked family member rows whose
// identifiers match a person that just entered the registry. Runs whenever a
// new person is created, so a person who becomes a declarant after already
// appearing as a family member gets linked. Idempotent: only NULL links are
// touched.
func backfillFamilyLinks(ctx context.Context, tx *sql.Tx, personID string, taxNumber, unzr *string) (int64, error) {
	if taxNumber == nil && unzr == nil {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE family_members SET person_id = $1
		 WHERE person_id IS NULL
		   AND (($2::text IS NOT NULL AND tax_number = $2)
		     OR ($3::text IS NOT NULL AND unzr = $3))`,
		personID, taxNumber, unzr)
	if err != nil {
		return 0, fmt.Errorf("backfill family links: %w", err)
	}
	linked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backfill family links: %w", err)
	}
	return linked, nil
}
