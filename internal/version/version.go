// Package version keeps the library version in a single place.
package version

// Version is the library version used in telemetry headers.
const Version = "1.0.0"
