// Package utils provides the small shared helpers used across strata.
//
//   - Worker pools, batching and panic recovery (concurrent.go, recovery.go)
//   - Vector math (vector.go)
//   - Name normalization and edit-distance similarity for entity resolution (text.go)
//   - Environment-driven limits (env.go)
package utils
