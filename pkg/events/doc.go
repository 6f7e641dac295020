/*
Package events notifies interested parties of cache lifecycle
transitions. The cache manager publishes objects cached, uncached, and
evicted, and datasets completing. Event types for objects deleted as
corrupted and for monitor sweep cycles are defined, but the integrity
monitor and the monitor worker do not publish them.

The Notifier delivers on the publisher's goroutine into per-subscriber
buffered channels; a subscriber that cannot keep up misses events
instead of blocking the cache.
*/
package events
