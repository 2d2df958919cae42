// Package progress carries crawl-run events from the driver to pluggable
// sinks without ever blocking the crawl. Events are batched on a background
// goroutine; sinks live in the sinks subpackage.
package progress
