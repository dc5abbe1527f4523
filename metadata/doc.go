// Package metadata provides typed metadata documents and filters for vectorize.
//
// # Metadata Types
//
// Metadata values are flat scalars or arrays of scalars:
//
//   - String: metadata.String("tech")
//   - Int: metadata.Int(2024)
//   - Float: metadata.Float(3.14)
//   - Bool: metadata.Bool(true)
//   - Array: metadata.Strings("a", "b")
//
// Nested objects are rejected by FromAny and DocumentFromAny. On the wire a
// Document is a plain JSON object:
//
//	{"category": "tech", "year": 2024, "published": true}
//
// # Filters
//
// A FilterSet is an AND of single-field conditions:
//
//	fs := metadata.NewFilterSet(
//	    metadata.Eq("category", metadata.String("tech")),
//	    metadata.Gte("year", metadata.Int(2023)),
//	)
//
// ParseFilter accepts the query-language form used by the HTTP API:
//
//	{"category": "tech", "year": {"$gte": 2023}}
//
// Supported operator tokens are $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin and $contains.
package metadata
