package declaration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openveris/nazk-harvester/pkg/logging"
)

// ParseError reports a payload that could not be turned into a Record. The
// raw payload travels with the error so it can be retained for inspection.
type ParseError struct {
	DocumentID string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse declaration %s: %v", e.DocumentID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse converts a raw detail payload into a Record. Child items missing
// their required type field are dropped with a warning; the record itself
// fails only when the payload is structurally unusable.
func Parse(documentID string, raw json.RawMessage) (*Record, error) {
	logger := logging.NewLogger("declaration-parser")

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ParseError{DocumentID: documentID, Err: err}
	}

	data, ok := payload["data"].(map[string]any)
	if !ok {
		return nil, &ParseError{DocumentID: documentID, Err: fmt.Errorf("payload has no data section")}
	}

	step0 := stepObject(data, "step_0")
	step1 := stepObject(data, "step_1")

	record := &Record{
		DocumentID: documentID,
		Declarant:  parseDeclarant(step1),
		Meta:       parseMeta(step0, step1),
		Raw:        raw,
	}

	record.FamilyMembers = parseFamilyMembers(stepList(data, "step_2"))
	keys := record.FamilyKeys()

	for _, item := range stepList(data, "step_3") {
		record.RealEstate = append(record.RealEstate, parseRealEstate(item, keys))
	}

	for _, item := range stepList(data, "step_4") {
		valuableType := safeString(item["objectType"])
		if valuableType == nil {
			logger.Debug().Str("document_id", documentID).Msg("Skipping valuable without objectType")
			continue
		}
		record.Valuables = append(record.Valuables, parseValuable(item, *valuableType, keys))
	}

	for _, item := range stepList(data, "step_5") {
		record.Memberships = append(record.Memberships, parseMembership(item))
	}

	for _, item := range stepList(data, "step_6") {
		objectType := safeString(item["objectType"])
		if objectType == nil {
			logger.Debug().Str("document_id", documentID).Msg("Skipping vehicle without objectType")
			continue
		}
		record.Vehicles = append(record.Vehicles, parseVehicle(item, *objectType, keys))
	}

	for _, item := range stepList(data, "step_7") {
		securityType := safeString(firstOf(item, "objectType", "typeProperty"))
		if securityType == nil {
			logger.Debug().Str("document_id", documentID).Msg("Skipping security without type")
			continue
		}
		record.Securities = append(record.Securities, parseSecurity(item, *securityType, keys))
	}

	for _, item := range stepList(data, "step_8") {
		companyName := safeString(firstOf(item, "company_name", "name"))
		if companyName == nil {
			logger.Debug().Str("document_id", documentID).Msg("Skipping corporate right without company name")
			continue
		}
		record.CorporateRights = append(record.CorporateRights, parseCorporateRight(item, *companyName, keys))
	}

	for _, item := range stepList(data, "step_9") {
		assetType := safeString(item["objectType"])
		if assetType == nil {
			// Some payloads mix beneficial-owner and expense entries into
			// this step; they are not intangible assets.
			if _, isOwner := item["company_name_beneficial_owner"]; isOwner {
				continue
			}
			if _, isExpense := item["expenseType"]; isExpense {
				continue
			}
			logger.Debug().Str("document_id", documentID).Msg("Skipping intangible asset without objectType")
			continue
		}
		record.IntangibleAssets = append(record.IntangibleAssets, parseIntangibleAsset(item, *assetType, keys))
	}

	for _, item := range stepList(data, "step_10") {
		expenseType := safeString(item["objectType"])
		amount := safeDecimal(item["costDateOrigin"])
		if expenseType == nil || amount == nil {
			continue
		}
		record.Expenses = append(record.Expenses, parseExpense(item, *expenseType, *amount))
	}

	for _, item := range stepList(data, "step_11") {
		record.IncomeSources = append(record.IncomeSources, parseIncomeSource(item, keys))
	}

	for _, item := range stepList(data, "step_13") {
		liabilityType := safeString(item["objectType"])
		if liabilityType == nil {
			logger.Debug().Str("document_id", documentID).Msg("Skipping liability without objectType")
			continue
		}
		record.Liabilities = append(record.Liabilities, parseLiability(item, *liabilityType, keys))
	}

	for _, item := range stepList(data, "step_15") {
		record.PartTimeJobs = append(record.PartTimeJobs, parsePartTimeJob(item, keys))
	}

	for _, item := range stepList(data, "step_17") {
		record.BankAccounts = append(record.BankAccounts, parseBankAccount(item, keys))
	}

	return record, nil
}

func parseDeclarant(step1 map[string]any) Declarant {
	d := Declarant{
		Lastname:    safeString(step1["lastname"]),
		Firstname:   safeString(step1["firstname"]),
		Middlename:  safeString(step1["middlename"]),
		TaxNumber:   safeString(step1["taxNumber"]),
		UNZR:        safeString(step1["unzr"]),
		ChangedName: anyToString(step1["changedName"]) == "1",
	}
	if birthday := safeDate(step1["birthday"]); birthday != nil {
		year := birthday.Year()
		d.BirthYear = &year
	}
	return d
}

func parseMeta(step0, step1 map[string]any) Meta {
	return Meta{
		DeclarationType:      safeInt(step0["declarationType"]),
		DeclarationYear:      extractDeclarationYear(step0),
		PeriodFrom:           safeDate(step0["declarationYearFrom"]),
		PeriodTo:             safeDate(step0["declarationYearTo"]),
		SubmittedAt:          safeDate(step0["introDate"]),
		WorkPlace:            safeString(step1["workPlace"]),
		WorkPlaceEdrpou:      safeString(step1["workPlaceEdrpou"]),
		WorkPost:             safeString(step1["workPost"]),
		PostType:             safeString(step1["postType"]),
		PostCategory:         safeString(step1["postCategory"]),
		ResponsiblePosition:  anyToString(step1["responsiblePosition"]) == "Так",
		PublicPerson:         anyToString(step1["public_person"]) == "Так",
		CorruptionAffected:   anyToString(step1["corruptionAffected"]) == "Так",
		Address:              parseAddress(step1),
		SameRegLivingAddress: anyToString(step1["sameRegLivingAddress"]) == "1",
	}
}

func parseAddress(m map[string]any) Address {
	return Address{
		CountryID:     safeInt(m["country"]),
		Region:        safeString(m["region"]),
		District:      safeString(m["district"]),
		Community:     safeString(m["community"]),
		City:          safeString(m["city"]),
		CityType:      safeString(m["cityType"]),
		Street:        safeString(firstOf(m, "ua_street", "street")),
		HouseNum:      safeString(firstOf(m, "ua_houseNum", "houseNum")),
		ApartmentsNum: safeString(firstOf(m, "ua_apartmentsNum", "apartmentsNum")),
		PostCode:      safeString(firstOf(m, "ua_postCode", "postCode")),
	}
}

func parseFamilyMembers(items []map[string]any) []FamilyMember {
	members := make([]FamilyMember, 0, len(items))
	for _, item := range items {
		members = append(members, FamilyMember{
			Key:         anyToString(item["id"]),
			Lastname:    safeString(item["lastname"]),
			Firstname:   safeString(item["firstname"]),
			Middlename:  safeString(item["middlename"]),
			TaxNumber:   safeString(item["taxNumber"]),
			UNZR:        safeString(item["unzr"]),
			Passport:    safeString(item["passport"]),
			Relation:    safeString(item["subjectRelation"]),
			Citizenship: safeInt(item["citizenship"]),
			Address:     parseAddress(item),
			Raw:         marshalRaw(item),
		})
	}
	return members
}

func parseRealEstate(item map[string]any, keys map[string]bool) RealEstate {
	rights := rightsList(item, "rights")
	return RealEstate{
		Owner:             determineOwner(rights, keys),
		ObjectType:        safeString(item["objectType"]),
		TotalArea:         safeDecimal(item["totalArea"]),
		OwnershipType:     firstOwnershipType(rights),
		OwnershipDate:     safeDate(item["owningDate"]),
		Rights:            marshalRaw(rights),
		Address:           parseAddress(item),
		CostAtAcquisition: safeDecimal(item["cost_date_assessment"]),
		CostCurrency:      currencyOrDefault(item["cost_currency"]),
		CostType:          safeString(item["object_cost_type"]),
		RegNumber:         safeString(item["regNumber"]),
		Raw:               marshalRaw(item),
	}
}

func parseVehicle(item map[string]any, objectType string, keys map[string]bool) Vehicle {
	rights := rightsList(item, "rights")
	return Vehicle{
		Owner:         determineOwner(rights, keys),
		ObjectType:    objectType,
		Brand:         safeString(item["brand"]),
		Model:         safeString(item["model"]),
		Year:          safeInt(item["graduationYear"]),
		RegNumber:     safeString(item["object_identificationNumber"]),
		OwnershipType: firstOwnershipType(rights),
		OwnershipDate: safeDate(item["owningDate"]),
		Rights:        marshalRaw(rights),
		Raw:           marshalRaw(item),
	}
}

func parseBankAccount(item map[string]any, keys map[string]bool) BankAccount {
	holders := rightsList(item, "person_who_care")
	return BankAccount{
		Owner:         determineOwner(holders, keys),
		BankName:      safeString(item["establishment_ua_company_name"]),
		BankCode:      safeString(item["establishment_ua_company_code"]),
		AccountType:   safeString(item["establishment_type"]),
		OwnershipType: safeString(item["ownership_type"]),
		Rights:        marshalRaw(rightsList(item, "rights")),
		Raw:           marshalRaw(item),
	}
}

func parseCorporateRight(item map[string]any, companyName string, keys map[string]bool) CorporateRight {
	rights := rightsList(item, "rights")
	return CorporateRight{
		Owner:            determineOwner(rights, keys),
		CompanyName:      companyName,
		CompanyEdrpou:    safeString(firstOf(item, "company_code", "corporate_rights_company_code")),
		OwnershipPercent: safeDecimal(firstOf(item, "share_percent", "cost_percent")),
		OwnershipType:    firstOwnershipType(rights),
		OwnershipDate:    safeDate(item["owningDate"]),
		Rights:           marshalRaw(rights),
		Raw:              marshalRaw(item),
	}
}

func parseSecurity(item map[string]any, securityType string, keys map[string]bool) Security {
	rights := rightsList(item, "rights")
	if len(rights) == 0 {
		rights = rightsList(item, "persons")
	}
	return Security{
		Owner:         determineOwner(rights, keys),
		SecurityType:  securityType,
		IssuerName:    safeString(firstOf(item, "emitent", "emitent_ua_company_name")),
		IssuerEdrpou:  safeString(firstOf(item, "emitent_edrpou", "emitent_ua_company_code")),
		Quantity:      safeDecimal(firstOf(item, "units", "amount")),
		TotalValue:    safeDecimal(item["cost"]),
		CostCurrency:  currencyOrDefault(item["currency"]),
		OwnershipType: firstOwnershipType(rights),
		OwnershipDate: safeDate(item["owningDate"]),
		Rights:        marshalRaw(rights),
		Raw:           marshalRaw(item),
	}
}

func parseValuable(item map[string]any, valuableType string, keys map[string]bool) Valuable {
	rights := rightsList(item, "rights")
	return Valuable{
		Owner:         determineOwner(rights, keys),
		ValuableType:  valuableType,
		Description:   safeString(item["description"]),
		TotalValue:    safeDecimal(item["costDate"]),
		CostCurrency:  currencyOrDefault(item["costCurrency"]),
		OwnershipType: firstOwnershipType(rights),
		OwnershipDate: safeDate(item["owningDate"]),
		Rights:        marshalRaw(rights),
		Raw:           marshalRaw(item),
	}
}

func parseIntangibleAsset(item map[string]any, assetType string, keys map[string]bool) IntangibleAsset {
	rights := rightsList(item, "rights")
	return IntangibleAsset{
		Owner:         determineOwner(rights, keys),
		AssetType:     assetType,
		Description:   safeString(item["description"]),
		TotalValue:    safeDecimal(item["cost"]),
		CostCurrency:  currencyOrDefault(item["currency"]),
		OwnershipType: firstOwnershipType(rights),
		OwnershipDate: safeDate(item["owningDate"]),
		Rights:        marshalRaw(rights),
		Raw:           marshalRaw(item),
	}
}

func parseIncomeSource(item map[string]any, keys map[string]bool) IncomeSource {
	holders := rightsList(item, "person")
	return IncomeSource{
		Owner:        determineOwner(holders, keys),
		IncomeType:   safeString(item["objectType"]),
		IncomeSource: safeString(item["source"]),
		SourceEdrpou: safeString(item["edrpou"]),
		Amount:       safeDecimal(item["sizeIncome"]),
		Currency:     currencyOrDefault(item["currency"]),
		Raw:          marshalRaw(item),
	}
}

func parseExpense(item map[string]any, expenseType string, amount decimal.Decimal) Expense {
	return Expense{
		ExpenseType: expenseType,
		Description: safeString(item["descriptionObject"]),
		Amount:      amount,
		Currency:    currencyOrDefault(item["currency"]),
		Raw:         marshalRaw(item),
	}
}

func parseLiability(item map[string]any, liabilityType string, keys map[string]bool) Liability {
	holders := rightsList(item, "person_who_care")
	return Liability{
		Owner:             determineOwner(holders, keys),
		LiabilityType:     liabilityType,
		CreditorName:      safeString(item["emitent_ua_company_name"]),
		CreditorEdrpou:    safeString(item["emitent_ua_company_code"]),
		OutstandingAmount: safeDecimal(item["credit_rest"]),
		Currency:          currencyOrDefault(item["currency"]),
		IssueDate:         safeDate(item["dateOrigin"]),
		Raw:               marshalRaw(item),
	}
}

func parsePartTimeJob(item map[string]any, keys map[string]bool) PartTimeJob {
	holders := rightsList(item, "person_who_care")
	return PartTimeJob{
		Owner:              determineOwner(holders, keys),
		OrganizationName:   safeString(firstOf(item, "emitent_ua_company_name", "naming")),
		OrganizationEdrpou: safeString(item["emitent_ua_company_code"]),
		Description:        safeString(item["description"]),
		Paid:               anyToString(item["paid_output"]) == "Так",
		Raw:                marshalRaw(item),
	}
}

func parseMembership(item map[string]any) Membership {
	return Membership{
		OrganizationName:   safeString(item["organization_name"]),
		OrganizationEdrpou: safeString(item["organization_edrpou"]),
		OrganizationType:   safeString(item["organization_type"]),
		Role:               safeString(item["position"]),
		Raw:                marshalRaw(item),
	}
}

// determineOwner scans a rights/person array for who the item belongs to.
// "1" is the filer; a family member internal id maps to that member; the
// default is the filer. Entries may be objects or bare strings.
func determineOwner(rights []any, familyKeys map[string]bool) Owner {
	for _, right := range rights {
		switch v := right.(type) {
		case string:
			if v == "1" {
				return Owner{Kind: OwnerDeclarant}
			}
			if familyKeys[v] {
				return Owner{Kind: OwnerFamily, FamilyKey: v}
			}
		case map[string]any:
			belongs := anyToString(firstOf(v, "rightBelongs", "person"))
			if belongs == "1" {
				return Owner{Kind: OwnerDeclarant}
			}
			if familyKeys[belongs] {
				return Owner{Kind: OwnerFamily, FamilyKey: belongs}
			}
		}
	}
	return Owner{Kind: OwnerDeclarant}
}

// firstOwnershipType returns the ownership type of the first rights entry.
func firstOwnershipType(rights []any) *string {
	if len(rights) == 0 {
		return nil
	}
	if m, ok := rights[0].(map[string]any); ok {
		return safeString(m["ownershipType"])
	}
	return nil
}

// extractDeclarationYear tries the known year fields in order. The field
// moved around across payload versions, including type-suffixed variants,
// and may only be recoverable from the reporting period bounds.
func extractDeclarationYear(step0 map[string]any) *int {
	for _, key := range []string{"declarationYear", "declaration_year", "changesYear"} {
		if year := safeInt(step0[key]); year != nil {
			return year
		}
	}

	if declType := anyToString(firstOf(step0, "declarationType", "declaration_type")); declType != "" {
		if year := safeInt(step0["declarationYear"+declType]); year != nil {
			return year
		}
	}

	for _, key := range []string{"declarationYearTo", "declarationYearFrom"} {
		if s := anyToString(step0[key]); strings.Contains(s, ".") {
			parts := strings.Split(s, ".")
			if year := safeInt(parts[len(parts)-1]); year != nil {
				return year
			}
		}
	}

	return nil
}

// stepObject extracts data.step_N.data as an object.
func stepObject(data map[string]any, step string) map[string]any {
	section, ok := data[step].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	inner, ok := section["data"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return inner
}

// stepList extracts data.step_N.data as a list of objects.
func stepList(data map[string]any, step string) []map[string]any {
	section, ok := data[step].(map[string]any)
	if !ok {
		return nil
	}
	inner, ok := section["data"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(inner))
	for _, entry := range inner {
		if m, ok := entry.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

func rightsList(item map[string]any, key string) []any {
	list, _ := item[key].([]any)
	return list
}

func firstOf(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil && anyToString(v) != "" {
			return v
		}
	}
	return nil
}

// isMasked reports a redacted placeholder: the source marks withheld values
// with bracketed labels such as "[Конфіденційна інформація]".
func isMasked(s string) bool {
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

func anyToString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		// JSON numbers decode as float64; ids and years are integral.
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		if value {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", value)
	}
}

// safeString returns a trimmed string value, nil for empty or masked data.
func safeString(v any) *string {
	s := strings.TrimSpace(anyToString(v))
	if s == "" || isMasked(s) {
		return nil
	}
	return &s
}

// safeInt returns an integer value, nil when absent, masked or non-numeric.
func safeInt(v any) *int {
	s := strings.TrimSpace(anyToString(v))
	if s == "" || isMasked(s) {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// safeDecimal parses an amount, handling the Ukrainian number format with a
// comma decimal separator and embedded spaces ("29,3" -> 29.3).
func safeDecimal(v any) *decimal.Decimal {
	if f, ok := v.(float64); ok {
		d := decimal.NewFromFloat(f)
		return &d
	}
	s := strings.TrimSpace(anyToString(v))
	if s == "" || isMasked(s) {
		return nil
	}
	s = strings.ReplaceAll(strings.ReplaceAll(s, ",", "."), " ", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// safeDate parses "dd.mm.yyyy" or ISO dates; masked values read as absent.
func safeDate(v any) *time.Time {
	s := strings.TrimSpace(anyToString(v))
	if s == "" || isMasked(s) {
		return nil
	}
	for _, layout := range []string{"02.01.2006", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// currencyOrDefault normalizes the currency code, falling back to the
// source's default currency.
func currencyOrDefault(v any) string {
	if s := safeString(v); s != nil {
		return *s
	}
	return "UAH"
}

func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
