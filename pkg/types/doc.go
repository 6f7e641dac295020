/*
Package types defines the shared data model for midden's cache: cached
object descriptors, volume registrations and statuses, inventory
aggregates, the monitor status document, restore queue entries, AIP
identifier parsing, and the error kinds surfaced across package
boundaries.

The package has no dependencies on the rest of the module so that any
layer (inventory, volumes, workers, CLI) can exchange these values
without import cycles.
*/
package types
