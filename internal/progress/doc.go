// Package progress carries archive-run milestones from the pipeline to
// pluggable sinks. Events are buffered and batched on a background goroutine so
// emitting never slows down archiving.
package progress
