/*
Package restorer pulls archived objects back into the cache.

The Restorer interface is the cache manager's view of long-term
storage: existence checks, size lookups, in-volume naming, placement
preference hints, and the streaming restoration itself. BagRestorer
implements it over a BagStore archive whose datasets are organized per
version with a head manifest enumerating each version's member files.

Manifests are cached in a dedicated head-bag staging volume separate
from the data cache, and archive reads retry with exponential backoff
before a failure is surfaced. Restored streams are checksummed on the
way into the target volume; a mismatch removes the partial copy and
fails the restoration.
*/
package restorer
