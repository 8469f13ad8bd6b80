// Package massindex rebuilds indexes from the complete backing dataset.
//
// A rebuild first purges every targeted entity type and waits for the purge
// to commit. It then splits the key range of each type into fixed-size
// batches, streams every batch on a bounded worker pool and applies the
// resulting ADD items through the regular backend, so a rebuild behaves like
// live indexing with respect to failures and clustering.
package massindex
