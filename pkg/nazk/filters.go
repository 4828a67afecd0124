package nazk

import (
	"net/url"
	"strconv"
	"time"
)

// SearchFilters narrows a paginated document search.
// Zero-valued fields are omitted from the request.
type SearchFilters struct {
	// Query is a free-text search term. The API ignores terms shorter
	// than three characters, so short terms are not sent.
	Query string

	// UserDeclarantID filters by the remote declarant identifier.
	UserDeclarantID int64

	// DocumentType filters by document type code.
	DocumentType int

	// DeclarationType filters by declaration type code.
	DeclarationType int

	// DeclarationYear filters by nominal declaration year.
	DeclarationYear int

	// StartDate and EndDate bound the submission timestamp.
	StartDate time.Time
	EndDate   time.Time
}

// QueryParams converts the filters to API query parameters for a page.
func (f SearchFilters) QueryParams(page int) url.Values {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	if len(f.Query) >= 3 {
		params.Set("q", f.Query)
	}
	if f.UserDeclarantID != 0 {
		params.Set("user_declarant_id", strconv.FormatInt(f.UserDeclarantID, 10))
	}
	if f.DocumentType != 0 {
		params.Set("document_type", strconv.Itoa(f.DocumentType))
	}
	if f.DeclarationType != 0 {
		params.Set("declaration_type", strconv.Itoa(f.DeclarationType))
	}
	if f.DeclarationYear != 0 {
		params.Set("declaration_year", strconv.Itoa(f.DeclarationYear))
	}
	if !f.StartDate.IsZero() {
		params.Set("start_date", strconv.FormatInt(f.StartDate.Unix(), 10))
	}
	if !f.EndDate.IsZero() {
		params.Set("end_date", strconv.FormatInt(f.EndDate.Unix(), 10))
	}

	return params
}
