// Package util provides small helpers shared across packages: truncating
// credential values for logs and parsing space-delimited scope strings.
package util
