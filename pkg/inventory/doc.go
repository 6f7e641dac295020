/*
Package inventory provides BoltDB-backed persistence for the cache's
storage inventory: the record of every object held in a cache volume,
the registered volumes, and the known checksum algorithms.

The inventory is the source of truth for placement, eviction, and
integrity-sweep decisions. Object rows live in per-volume sub-buckets
keyed by in-volume name, so the (volume, name) coordinate is unique by
construction and replacing a row is a single put. All values are
serialized as JSON; transactions go through bolt's View/Update
machinery, giving an exclusive writer with concurrent readers. The
in-memory algorithm and volume registration maps are reloaded after
every write.

The Reader and Mutator interfaces split the store's capabilities so
background workers can be handed only what they need.
*/
package inventory
