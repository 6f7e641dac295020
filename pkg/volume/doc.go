/*
Package volume defines the CacheVolume byte-store abstraction the
cache places restored objects into, and a filesystem-backed
implementation.

A volume stores whole objects under flat, slash-separated names. The
local driver writes through a temp file and renames into place, so a
concurrent reader either sees the previous object or the complete new
one, never a torn write. Save computes the sha256 of the streamed
bytes so the cache can verify restorations without a second pass.
*/
package volume
