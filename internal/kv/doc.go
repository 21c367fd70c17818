// Package kv implements the audited key-value operations on top of the
// store: Retrieve, Update, Delete and Dump.
//
// Each of Retrieve, Update and Delete runs in exactly one store scope that
// spans reading the current value, performing the mutation and appending
// the audit event. The scope commits as a whole or not at all, so an event
// is never recorded without its state change and vice versa.
//
// Failures are never retried here. A missing key is reported as ErrNotFound;
// caller defects such as an oversized value are ErrMalformedInput and are
// rejected before a scope is opened; anything else is a transaction failure
// and means nothing was written.
package kv
