package vectorize

import "github.com/hupe1980/vectorize/model"

type (
	// VectorRecord is a stored vector with its id and optional metadata.
	VectorRecord = model.VectorRecord
	// Match is a single query hit.
	Match = model.Match
	// QueryOptions controls a similarity query.
	QueryOptions = model.QueryOptions
	// QueryResult is the response of Query.
	QueryResult = model.QueryResult
	// MutationResult is the response of Insert and Upsert.
	MutationResult = model.MutationResult
	// DeleteResult is the response of DeleteByIDs.
	DeleteResult = model.DeleteResult
	// Rejection reports a record that was not applied.
	Rejection = model.Rejection
)
