package nazk

import (
	"errors"
	"testing"
)

func TestDecodeSearchBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantIDs []string
	}{
		{
			name:    "bare array",
			body:    `[{"id": "a"}, {"id": "b"}]`,
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "items envelope",
			body:    `{"items": [{"id": "a"}]}`,
			wantIDs: []string{"a"},
		},
		{
			name:    "data envelope",
			body:    `{"data": [{"id": "a"}], "page": 2}`,
			wantIDs: []string{"a"},
		},
		{
			name:    "numeric ids",
			body:    `[{"id": 12345}]`,
			wantIDs: []string{"12345"},
		},
		{
			name:    "entries without id are skipped",
			body:    `[{"id": "a"}, {"declarant_name": "no id"}, {"id": "b"}]`,
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "empty array",
			body:    `[]`,
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summaries, err := decodeSearchBody([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodeSearchBody() error = %v", err)
			}
			if len(summaries) != len(tt.wantIDs) {
				t.Fatalf("decodeSearchBody() returned %d summaries, want %d", len(summaries), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if summaries[i].DocumentID != want {
					t.Errorf("summaries[%d].DocumentID = %q, want %q", i, summaries[i].DocumentID, want)
				}
			}
		})
	}
}

func TestDecodeSearchBodyMalformed(t *testing.T) {
	_, err := decodeSearchBody([]byte(`not json at all`))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("decodeSearchBody() error = %v, want ErrMalformedResponse", err)
	}
}

func TestDecodeSummaryKeepsRawEntry(t *testing.T) {
	body := `{"id": "doc-1", "declarant_name": "Сковорода Григорій", "declaration_year": 2021, "extra": true}`
	s, err := decodeSummary([]byte(body))
	if err != nil {
		t.Fatalf("decodeSummary() error = %v", err)
	}
	if s.DeclarantName != "Сковорода Григорій" {
		t.Errorf("DeclarantName = %q, want %q", s.DeclarantName, "Сковорода Григорій")
	}
	if s.DeclarationYear != 2021 {
		t.Errorf("DeclarationYear = %d, want 2021", s.DeclarationYear)
	}
	if string(s.Raw) != body {
		t.Errorf("Raw = %s, want the verbatim entry", s.Raw)
	}
}
