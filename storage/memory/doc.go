// Package memory provides an in-memory storage.Store. It is suitable for
// development, tests and single-instance deployments; state is lost on restart.
//
// Conditional updates (MarkCodeUsed, Revoke*) are performed under the store's
// write lock, which gives the same compare-and-set semantics a transactional
// backend provides.
package memory
