// Package model defines the request and response types of vectorize.
//
// # Records
//
//   - VectorRecord: id, embedding values and optional metadata
//
// # Responses
//
//   - QueryResult / Match: ranked similarity hits
//   - MutationResult: count and mutation id of insert/upsert, plus rejected records
//   - DeleteResult: ids that were present and removed
//
// # Presets
//
// KnownModel names embedding models whose dimension is fixed, so an index can
// be created from a model name alone:
//
//	d, _ := model.ModelBGEBaseENv15.Dimensions() // 768
package model
