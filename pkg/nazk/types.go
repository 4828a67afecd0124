package nazk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summary is one entry of a paginated search result. Only the fields that
// drive the pipeline are extracted; the full entry is kept verbatim.
type Summary struct {
	DocumentID      string
	DeclarantName   string
	DeclarationYear int
	Raw             json.RawMessage
}

// flexString decodes a JSON string or number into a string. The API is not
// consistent about identifier types across endpoint versions.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// decodeSearchBody tolerates the several shapes the list endpoint is known
// to return: records under "items", "results" or "data", or a bare array.
func decodeSearchBody(body []byte) ([]Summary, error) {
	var envelope struct {
		Items   []json.RawMessage `json:"items"`
		Results []json.RawMessage `json:"results"`
		Data    []json.RawMessage `json:"data"`
	}

	items := []json.RawMessage{}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Items != nil:
			items = envelope.Items
		case envelope.Results != nil:
			items = envelope.Results
		case envelope.Data != nil:
			items = envelope.Data
		}
	} else if arrErr := json.Unmarshal(body, &items); arrErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	summaries := make([]Summary, 0, len(items))
	for _, item := range items {
		s, err := decodeSummary(item)
		if err != nil {
			// A single bad entry does not poison the page.
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func decodeSummary(item json.RawMessage) (Summary, error) {
	var fields struct {
		ID              flexString `json:"id"`
		DeclarantName   string     `json:"declarant_name"`
		DeclarationYear int        `json:"declaration_year"`
	}

	if err := json.Unmarshal(item, &fields); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if fields.ID == "" {
		return Summary{}, fmt.Errorf("summary without id")
	}

	return Summary{
		DocumentID:      string(fields.ID),
		DeclarantName:   fields.DeclarantName,
		DeclarationYear: fields.DeclarationYear,
		Raw:             item,
	}, nil
}
