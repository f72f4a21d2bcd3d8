package clause

// Record is one addressable clause of an internal procedure document.
// This is the canonical clause schema used end to end; the index, the
// matcher and the API all carry these field names.
type Record struct {
	DocumentNumber string   `json:"document_number"`
	Revision       string   `json:"revision"`
	ClauseNumber   string   `json:"clause_number"`
	Title          string   `json:"title"`
	Text           string   `json:"text"`
	CharCount      int      `json:"char_count"`
	References     []string `json:"references,omitempty"`
}

// ParsedDocument is the result of parsing one uploaded document.
type ParsedDocument struct {
	DocumentNumber string   `json:"document_number"`
	Revision       string   `json:"revision"`
	Filename       string   `json:"filename"`
	Clauses        []Record `json:"clauses"`
}

// NoTextPlaceholder is stored as clause text when a section yields no
// extractable content. Matching still works off the clause title.
const NoTextPlaceholder = "No text found"
