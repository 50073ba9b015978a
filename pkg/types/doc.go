// Package types defines the core data model for the fabric: nodes, typed
// property values, and the scalar/structured distinction that drives indexing.
//
// Properties are stored as tagged Value variants rather than raw interface{}
// so that the store can decide indexability without runtime type switches at
// every call site. Scalar values (string, number, bool) are indexable; lists,
// maps, and null are stored but never indexed.
package types
