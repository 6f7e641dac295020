/*
Package worker holds midden's background threads of control.

MonitorWorker periodically sweeps the cache for corrupted objects,
anchoring its cycle starts to UTC midnight plus a configurable offset
and rewriting a JSON status document after each sweep. Cacher drains
the persistent restore queue, caching each requested file or dataset;
a failure on one entry never aborts the rest of the queue.

Both workers stop cooperatively: the monitor at its next sleep
boundary, the cacher at its next item boundary. They receive the
narrow interfaces they need (the integrity monitors, the Placement
capability of the cache manager) rather than the manager itself.
*/
package worker
