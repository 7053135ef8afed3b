// Package ir provides the shared value types of the docsync engine.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the version-key model
// the foundational layer with no circular dependencies between the engine,
// the source adapters and the targets.
//
// Key design constraints:
//   - VersionKey is a plain value type, copied freely
//   - NO float types in document fields - use int64 for numbers
//   - Document fields serialize to RFC 8785 canonical JSON for hashing
//   - Sequence times compare with time.Time.Equal, never ==
package ir
