/*
Package cache implements the cache manager: the coordinator that keeps
requested objects resident on local volumes.

A Cache call consults the storage inventory, and on a miss restores
the object from the archive into the best eligible volume, evicting
victims chosen by the DeletionPlanner when a volume is full. New
copies are recorded back into the inventory, so a successful Cache is
immediately visible to IsCached and FindObject. Restorations for the
same identifier are single-flighted: concurrent requests share one
restoration and its result.

Naming and placement-preference decisions are injected policies
(NamingPolicy, PreferencePolicy); by default both delegate to the
restorer, which knows the archive's conventions.
*/
package cache
