// Package declaration defines the parsed declaration record and the parsing
// of raw API payloads into it. The raw payload is treated as an opaque,
// versioned input: only the fields the pipeline needs are extracted, and the
// original JSON is preserved verbatim on the record and every child item.
package declaration

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerKind tags who holds an asset or financial fact.
type OwnerKind string

const (
	// OwnerDeclarant marks the filer as owner.
	OwnerDeclarant OwnerKind = "declarant"

	// OwnerFamily marks a family member as owner.
	OwnerFamily OwnerKind = "family"
)

// Owner identifies the holder of an asset or financial fact. FamilyKey is
// the payload-internal family member identifier, resolved to a stored row
// at write time.
type Owner struct {
	Kind      OwnerKind
	FamilyKey string
}

// Declarant is the filer as described in the payload. Either TaxNumber or
// UNZR is expected but both may be absent or redacted.
type Declarant struct {
	Lastname    *string
	Firstname   *string
	Middlename  *string
	TaxNumber   *string
	UNZR        *string
	ChangedName bool
	BirthYear   *int
}

// Meta carries the declaration-level fields of the payload header.
type Meta struct {
	DeclarationType *int
	DeclarationYear *int
	PeriodFrom      *time.Time
	PeriodTo        *time.Time
	SubmittedAt     *time.Time

	WorkPlace       *string
	WorkPlaceEdrpou *string
	WorkPost        *string
	PostType        *string
	PostCategory    *string

	ResponsiblePosition bool
	PublicPerson        bool
	CorruptionAffected  bool

	Address              Address
	SameRegLivingAddress bool
}

// Address is the shared address shape used by the declarant, family members
// and real estate objects.
type Address struct {
	CountryID     *int
	Region        *string
	District      *string
	Community     *string
	City          *string
	CityType      *string
	Street        *string
	HouseNum      *string
	ApartmentsNum *string
	PostCode      *string
}

// FamilyMember is a person named inside the declaration, scoped to it.
type FamilyMember struct {
	Key         string
	Lastname    *string
	Firstname   *string
	Middlename  *string
	TaxNumber   *string
	UNZR        *string
	Passport    *string
	Relation    *string
	Citizenship *int
	Address     Address
	Raw         json.RawMessage
}

// RealEstate is a declared real estate object.
type RealEstate struct {
	Owner             Owner
	ObjectType        *string
	TotalArea         *decimal.Decimal
	OwnershipType     *string
	OwnershipDate     *time.Time
	Rights            json.RawMessage
	Address           Address
	CostAtAcquisition *decimal.Decimal
	CostCurrency      string
	CostType          *string
	RegNumber         *string
	Raw               json.RawMessage
}

// Vehicle is a declared vehicle.
type Vehicle struct {
	Owner         Owner
	ObjectType    string
	Brand         *string
	Model         *string
	Year          *int
	RegNumber     *string
	OwnershipType *string
	OwnershipDate *time.Time
	Rights        json.RawMessage
	Raw           json.RawMessage
}

// BankAccount is a declared bank or financial institution account.
type BankAccount struct {
	Owner         Owner
	BankName      *string
	BankCode      *string
	AccountType   *string
	OwnershipType *string
	Rights        json.RawMessage
	Raw           json.RawMessage
}

// CorporateRight is a declared share in a company.
type CorporateRight struct {
	Owner            Owner
	CompanyName      string
	CompanyEdrpou    *string
	OwnershipPercent *decimal.Decimal
	OwnershipType    *string
	OwnershipDate    *time.Time
	Rights           json.RawMessage
	Raw              json.RawMessage
}

// Security is a declared security holding.
type Security struct {
	Owner         Owner
	SecurityType  string
	IssuerName    *string
	IssuerEdrpou  *string
	Quantity      *decimal.Decimal
	TotalValue    *decimal.Decimal
	CostCurrency  string
	OwnershipType *string
	OwnershipDate *time.Time
	Rights        json.RawMessage
	Raw           json.RawMessage
}

// Valuable is a declared movable valuable.
type Valuable struct {
	Owner         Owner
	ValuableType  string
	Description   *string
	TotalValue    *decimal.Decimal
	CostCurrency  string
	OwnershipType *string
	OwnershipDate *time.Time
	Rights        json.RawMessage
	Raw           json.RawMessage
}

// IntangibleAsset is a declared intangible asset.
type IntangibleAsset struct {
	Owner         Owner
	AssetType     string
	Description   *string
	TotalValue    *decimal.Decimal
	CostCurrency  string
	OwnershipType *string
	OwnershipDate *time.Time
	Rights        json.RawMessage
	Raw           json.RawMessage
}

// IncomeSource is a declared income fact. Amount absence means withheld,
// never zero.
type IncomeSource struct {
	Owner        Owner
	IncomeType   *string
	IncomeSource *string
	SourceEdrpou *string
	Amount       *decimal.Decimal
	Currency     string
	Raw          json.RawMessage
}

// Expense is a declared significant expense.
type Expense struct {
	ExpenseType string
	Description *string
	Amount      decimal.Decimal
	Currency    string
	Raw         json.RawMessage
}

// Liability is a declared financial liability.
type Liability struct {
	Owner             Owner
	LiabilityType     string
	CreditorName      *string
	CreditorEdrpou    *string
	OutstandingAmount *decimal.Decimal
	Currency          string
	IssueDate         *time.Time
	Raw               json.RawMessage
}

// PartTimeJob is declared concurrent employment.
type PartTimeJob struct {
	Owner              Owner
	OrganizationName   *string
	OrganizationEdrpou *string
	Description        *string
	Paid               bool
	Raw                json.RawMessage
}

// Membership is a declared organization membership.
type Membership struct {
	OrganizationName   *string
	OrganizationEdrpou *string
	OrganizationType   *string
	Role               *string
	Raw                json.RawMessage
}

// Record is one fully parsed declaration, ready for an atomic commit.
type Record struct {
	DocumentID string
	Declarant  Declarant
	Meta       Meta

	FamilyMembers    []FamilyMember
	RealEstate       []RealEstate
	Vehicles         []Vehicle
	BankAccounts     []BankAccount
	CorporateRights  []CorporateRight
	Securities       []Security
	Valuables        []Valuable
	IntangibleAssets []IntangibleAsset
	IncomeSources    []IncomeSource
	Expenses         []Expense
	Liabilities      []Liability
	PartTimeJobs     []PartTimeJob
	Memberships      []Membership

	Raw json.RawMessage
}

// FamilyKeys returns the set of payload-internal family member identifiers,
// used for owner determination.
func (r *Record) FamilyKeys() map[string]bool {
	keys := make(map[string]bool, len(r.FamilyMembers))
	for _, m := range r.FamilyMembers {
		if m.Key != "" {
			keys[m.Key] = true
		}
	}
	return keys
}
