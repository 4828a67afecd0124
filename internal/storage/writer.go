package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/openveris/nazk-harvester/pkg/declaration"
	"github.com/openveris/nazk-harvester/pkg/logging"
)

// Prometheus metrics for the write path.
var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_commits_total",
		Help: "Total declaration commits by outcome",
	}, []string{"outcome"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_commit_duration_seconds",
		Help:    "Declaration commit duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	integrityErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_integrity_errors_total",
		Help: "Total commits rolled back on integrity violations",
	})

	familyLinksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_family_links_total",
		Help: "Family member to person links established, by phase",
	}, []string{"phase"}) // "ingest", "backfill"
)

// CommitOutcome reports what a successful commit did.
type CommitOutcome int

const (
	// OutcomeInserted means the declaration was stored for the first time.
	OutcomeInserted CommitOutcome = iota

	// OutcomeUpdated means the document identifier already existed and the
	// existing declaration was refreshed in place.
	OutcomeUpdated
)

func (o CommitOutcome) String() string {
	if o == OutcomeUpdated {
		return "updated"
	}
	return "inserted"
}

// childTables lists every table scoped to a declaration, in an order safe
// for wholesale deletion before re-insert.
var childTables = []string{
	"real_estate",
	"vehicles",
	"bank_accounts",
	"corporate_rights",
	"securities",
	"valuables",
	"intangible_assets",
	"income_sources",
	"expenses",
	"liabilities",
	"part_time_jobs",
	"memberships",
	"family_members",
}

// Writer translates a parsed record into one atomic multi-table write.
// Idempotent under retry: the declaration upserts on its document
// identifier and child rows are replaced wholesale, so re-committing an
// unchanged record leaves row counts stable.
type Writer struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewWriter creates a persistence writer on the given database.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{
		db:     db,
		logger: logging.NewLogger("writer"),
	}
}

// Commit stores one declaration and everything scoped to it atomically.
// Either all rows become visible or none. A uniqueness violation on
// anything but the document identifier rolls the whole record back and
// surfaces as an IntegrityError.
func (w *Writer) Commit(ctx context.Context, rec *declaration.Record) (CommitOutcome, error) {
	start := time.Now()
	defer func() {
		commitDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	outcome, err := w.commitInTx(ctx, tx, rec)
	if err != nil {
		if integrity := asIntegrityError(rec.DocumentID, err); integrity != nil {
			integrityErrorsTotal.Inc()
			return 0, integrity
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit declaration %s: %w", rec.DocumentID, err)
	}

	commitsTotal.WithLabelValues(outcome.String()).Inc()
	w.logger.Info().
		Str("document_id", rec.DocumentID).
		Str("outcome", outcome.String()).
		Dur("duration", time.Since(start)).
		Msg("Declaration committed")

	return outcome, nil
}

func (w *Writer) commitInTx(ctx context.Context, tx *sql.Tx, rec *declaration.Record) (CommitOutcome, error) {
	personID, created, err := getOrCreatePerson(ctx, tx, rec.Declarant)
	if err != nil {
		return 0, err
	}
	if created {
		linked, err := backfillFamilyLinks(ctx, tx, personID, rec.Declarant.TaxNumber, rec.Declarant.UNZR)
		if err != nil {
			return 0, err
		}
		if linked > 0 {
			familyLinksTotal.WithLabelValues("backfill").Add(float64(linked))
			w.logger.Info().
				Str("person_id", personID).
				Int64("linked", linked).
				Msg("Backfilled family member links for new person")
		}
	}

	declarationID, outcome, err := upsertDeclaration(ctx, tx, personID, rec)
	if err != nil {
		return 0, err
	}

	// Replace children wholesale so repeated ingestion of the same source
	// record cannot accumulate rows.
	for _, table := range childTables {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE declaration_id = $1`, declarationID); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	memberIDs, err := insertFamilyMembers(ctx, tx, declarationID, rec)
	if err != nil {
		return 0, err
	}

	if err := insertChildren(ctx, tx, declarationID, rec, memberIDs); err != nil {
		return 0, err
	}

	return outcome, nil
}

// upsertDeclaration inserts the declaration or refreshes the existing row
// for the same document identifier. xmax = 0 distinguishes a fresh insert
// from a conflict update.
func upsertDeclaration(ctx context.Context, tx *sql.Tx, personID string, rec *declaration.Record) (string, CommitOutcome, error) {
	meta := rec.Meta
	addr := meta.Address

	var id string
	var inserted bool
	err := tx.QueryRowContext(ctx,
		`INSERT INTO declarations (
			id, person_id, document_id, declaration_type, declaration_year,
			period_from, period_to, submitted_at,
			work_place, work_place_edrpou, work_post, post_type, post_category,
			responsible_position, public_person, corruption_affected,
			country_id, region, district, community, city, city_type,
			street, house_num, apartments_num, post_code,
			same_reg_living_address, raw_data, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			NOW(), NOW()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			updated_at = NOW(),
			raw_data = EXCLUDED.raw_data,
			submitted_at = EXCLUDED.submitted_at
		RETURNING id, (xmax = 0)`,
		uuid.NewString(), personID, rec.DocumentID,
		meta.DeclarationType, meta.DeclarationYear,
		meta.PeriodFrom, meta.PeriodTo, meta.SubmittedAt,
		meta.WorkPlace, meta.WorkPlaceEdrpou, meta.WorkPost, meta.PostType, meta.PostCategory,
		meta.ResponsiblePosition, meta.PublicPerson, meta.CorruptionAffected,
		addr.CountryID, addr.Region, addr.District, addr.Community, addr.City, addr.CityType,
		addr.Street, addr.HouseNum, addr.ApartmentsNum, addr.PostCode,
		meta.SameRegLivingAddress, []byte(rec.Raw),
	).Scan(&id, &inserted)
	if err != nil {
		return "", 0, fmt.Errorf("upsert declaration %s: %w", rec.DocumentID, err)
	}

	if inserted {
		return id, OutcomeInserted, nil
	}
	return id, OutcomeUpdated, nil
}

// insertFamilyMembers stores the family rows, resolving each against the
// person registry first, and returns the payload-key to row-id mapping for
// owner references.
func insertFamilyMembers(ctx context.Context, tx *sql.Tx, declarationID string, rec *declaration.Record) (map[string]string, error) {
	memberIDs := make(map[string]string, len(rec.FamilyMembers))

	for _, m := range rec.FamilyMembers {
		personID, err := resolveFamilyMember(ctx, tx, rec.DocumentID, m)
		if err != nil {
			return nil, err
		}
		if personID != nil {
			familyLinksTotal.WithLabelValues("ingest").Inc()
		}

		id := uuid.NewString()
		addr := m.Address
		_, err = tx.ExecContext(ctx,
			`INSERT INTO family_members (
				id, declaration_id, person_id, member_key,
				lastname, firstname, middlename, tax_number, unzr, passport,
				subject_relation, citizenship,
				country_id, region, district, community, city, city_type,
				street, house_num, apartments_num, post_code,
				raw_data, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, NOW()
			)`,
			id, declarationID, personID, m.Key,
			m.Lastname, m.Firstname, m.Middlename, m.TaxNumber, m.UNZR, m.Passport,
			m.Relation, m.Citizenship,
			addr.CountryID, addr.Region, addr.District, addr.Community, addr.City, addr.CityType,
			addr.Street, addr.HouseNum, addr.ApartmentsNum, addr.PostCode,
			[]byte(m.Raw))
		if err != nil {
			return nil, fmt.Errorf("insert family member: %w", err)
		}

		if m.Key != "" {
			memberIDs[m.Key] = id
		}
	}

	return memberIDs, nil
}

// ownerColumns maps a parsed owner to the (owner_type, family_member_id)
// column pair.
func ownerColumns(o declaration.Owner, memberIDs map[string]string) (string, *string) {
	if o.Kind == declaration.OwnerFamily {
		if id, ok := memberIDs[o.FamilyKey]; ok {
			return string(declaration.OwnerFamily), &id
		}
	}
	return string(declaration.OwnerDeclarant), nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, declarationID string, rec *declaration.Record, memberIDs map[string]string) error {
	for _, p := range rec.RealEstate {
		ownerType, memberID := ownerColumns(p.Owner, memberIDs)
		addr := p.Address
		_, err := tx.ExecContext(ctx,
			`INSERT INTO real_estate (
				id, declaration_id, owner_type, family_member_id,
				object_type, total_area, ownership_type, ownership_date, rights,
				country_id, region, district, community, city, city_type,
				street, house_num, apartments_num, post_code,
				cost_at_acquisition, cost_currency, cost_type, reg_number,
				raw_data, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW()
			)`,
			uuid.NewString(), declarationID, ownerType, memberID,
			p.ObjectType, p.TotalArea, p.OwnershipType, p.OwnershipDate, []byte(p.Rights),
			addr.CountryID, addr.Region, addr.District, addr.Community, addr.City, addr.CityType,
			addr.Street, addr.HouseNum, addr.ApartmentsNum, addr.PostCode,
			p.CostAtAcquisition, p.CostCurrency, p.CostType, p.RegNumber,
			[]byte(p.Raw))
		if err != nil {
			return fmt.Errorf("insert real estate: %w", err)
		}
	}

	for _, v := range rec.Vehicles {
		ownerType, memberID := ownerColumns(v.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO vehicles (
				id, declaration_id, owner_type, family_member_id,
				object_type, brand, model, year, reg_number,
				ownership_type, ownership_date, rights, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			v.ObjectType, v.Brand, v.Model, v.Year, v.RegNumber,
			v.OwnershipType, v.OwnershipDate, []byte(v.Rights), []byte(v.Raw))
		if err != nil {
			return fmt.Errorf("insert vehicle: %w", err)
		}
	}

	for _, a := range rec.BankAccounts {
		ownerType, memberID := ownerColumns(a.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bank_accounts (
				id, declaration_id, owner_type, family_member_id,
				bank_name, bank_code, account_type, ownership_type, rights,
				raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			a.BankName, a.BankCode, a.AccountType, a.OwnershipType, []byte(a.Rights),
			[]byte(a.Raw))
		if err != nil {
			return fmt.Errorf("insert bank account: %w", err)
		}
	}

	for _, c := range rec.CorporateRights {
		ownerType, memberID := ownerColumns(c.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO corporate_rights (
				id, declaration_id, owner_type, family_member_id,
				company_name, company_edrpou, ownership_percent,
				ownership_type, ownership_date, rights, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			c.CompanyName, c.CompanyEdrpou, c.OwnershipPercent,
			c.OwnershipType, c.OwnershipDate, []byte(c.Rights), []byte(c.Raw))
		if err != nil {
			return fmt.Errorf("insert corporate right: %w", err)
		}
	}

	for _, s := range rec.Securities {
		ownerType, memberID := ownerColumns(s.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO securities (
				id, declaration_id, owner_type, family_member_id,
				security_type, issuer_name, issuer_edrpou,
				quantity, total_value, cost_currency,
				ownership_type, ownership_date, rights, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			s.SecurityType, s.IssuerName, s.IssuerEdrpou,
			s.Quantity, s.TotalValue, s.CostCurrency,
			s.OwnershipType, s.OwnershipDate, []byte(s.Rights), []byte(s.Raw))
		if err != nil {
			return fmt.Errorf("insert security: %w", err)
		}
	}

	for _, v := range rec.Valuables {
		ownerType, memberID := ownerColumns(v.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO valuables (
				id, declaration_id, owner_type, family_member_id,
				valuable_type, description, total_value, cost_currency,
				ownership_type, ownership_date, rights, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			v.ValuableType, v.Description, v.TotalValue, v.CostCurrency,
			v.OwnershipType, v.OwnershipDate, []byte(v.Rights), []byte(v.Raw))
		if err != nil {
			return fmt.Errorf("insert valuable: %w", err)
		}
	}

	for _, a := range rec.IntangibleAssets {
		ownerType, memberID := ownerColumns(a.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO intangible_assets (
				id, declaration_id, owner_type, family_member_id,
				asset_type, description, total_value, cost_currency,
				ownership_type, ownership_date, rights, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			a.AssetType, a.Description, a.TotalValue, a.CostCurrency,
			a.OwnershipType, a.OwnershipDate, []byte(a.Rights), []byte(a.Raw))
		if err != nil {
			return fmt.Errorf("insert intangible asset: %w", err)
		}
	}

	for _, i := range rec.IncomeSources {
		ownerType, memberID := ownerColumns(i.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO income_sources (
				id, declaration_id, owner_type, family_member_id,
				income_type, income_source, source_edrpou,
				amount, currency, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			i.IncomeType, i.IncomeSource, i.SourceEdrpou,
			i.Amount, i.Currency, []byte(i.Raw))
		if err != nil {
			return fmt.Errorf("insert income source: %w", err)
		}
	}

	for _, e := range rec.Expenses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (
				id, declaration_id, expense_type, description,
				amount, currency, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			uuid.NewString(), declarationID, e.ExpenseType, e.Description,
			e.Amount, e.Currency, []byte(e.Raw))
		if err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
	}

	for _, l := range rec.Liabilities {
		ownerType, memberID := ownerColumns(l.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO liabilities (
				id, declaration_id, owner_type, family_member_id,
				liability_type, creditor_name, creditor_edrpou,
				outstanding_amount, currency, issue_date, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			l.LiabilityType, l.CreditorName, l.CreditorEdrpou,
			l.OutstandingAmount, l.Currency, l.IssueDate, []byte(l.Raw))
		if err != nil {
			return fmt.Errorf("insert liability: %w", err)
		}
	}

	for _, j := range rec.PartTimeJobs {
		ownerType, memberID := ownerColumns(j.Owner, memberIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO part_time_jobs (
				id, declaration_id, owner_type, family_member_id,
				organization_name, organization_edrpou, description, paid,
				raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
			uuid.NewString(), declarationID, ownerType, memberID,
			j.OrganizationName, j.OrganizationEdrpou, j.Description, j.Paid,
			[]byte(j.Raw))
		if err != nil {
			return fmt.Errorf("insert part-time job: %w", err)
		}
	}

	for _, m := range rec.Memberships {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memberships (
				id, declaration_id, organization_name, organization_edrpou,
				organization_type, role, raw_data, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			uuid.NewString(), declarationID, m.OrganizationName, m.OrganizationEdrpou,
			m.OrganizationType, m.Role, []byte(m.Raw))
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}

	return nil
}

// ExistingDocumentIDs returns every stored document identifier, used to
// preload the dedup cache at cold start.
func (w *Writer) ExistingDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT document_id FROM declarations`)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return ids, nil
}
