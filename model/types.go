package model

import (
	"encoding/json"

	"github.com/hupe1980/vectorize/metadata"
)

// VectorRecord is a single stored vector with its caller-assigned id and
// optional metadata.
type VectorRecord struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata metadata.Document `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the record.
func (r VectorRecord) Clone() VectorRecord {
	out := VectorRecord{ID: r.ID, Metadata: metadata.CloneIfNeeded(r.Metadata)}
	if r.Values != nil {
		out.Values = make([]float32, len(r.Values))
		copy(out.Values, r.Values)
	}
	return out
}

// Match is a single query hit.
type Match struct {
	VectorID string        `json:"vectorId"`
	Score    float64       `json:"score"`
	Vector   *VectorRecord `json:"vector,omitempty"`
}

// QueryOptions controls a similarity query.
type QueryOptions struct {
	// TopK is the number of matches to return. Zero selects the default.
	TopK int `json:"topK,omitempty"`

	// ReturnVectors attaches the stored record to every match.
	ReturnVectors bool `json:"returnVectors,omitempty"`

	// Filter restricts matches to records whose metadata satisfies every condition.
	Filter *metadata.FilterSet `json:"-"`
}

// QueryResult is the response of a similarity query.
type QueryResult struct {
	Matches []Match `json:"matches"`
	Count   int     `json:"count"`

	// Partial is set when the query deadline expired during traversal and
	// the matches are a best-effort subset.
	Partial bool `json:"partial,omitempty"`
}

// Rejection reports a record of a mutation batch that was not applied.
type Rejection struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Err   error  `json:"-"`
}

// Error returns the rejection reason.
func (r Rejection) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// MarshalJSON renders the rejection with its reason as a string.
func (r Rejection) MarshalJSON() ([]byte, error) {
	type wire struct {
		Index int    `json:"index"`
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	return json.Marshal(wire{Index: r.Index, ID: r.ID, Error: r.Error()})
}

// MutationResult is the response of insert and upsert.
type MutationResult struct {
	Count      int         `json:"count"`
	MutationID string      `json:"mutationId,omitempty"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// DeleteResult is the response of deleteByIds.
type DeleteResult struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}
