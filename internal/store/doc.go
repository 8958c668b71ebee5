// Package store defines the persistence contract for archive records and
// per-date progress. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
