// Package utils provides internal utility functions for the tracking
// service. This package is not intended to be imported by external code.
//
// It contains:
//   - Time formatting and conversion utilities
//   - Great-circle distance calculation
package utils
