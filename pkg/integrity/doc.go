/*
Package integrity verifies that cached objects still match what the
inventory says about them.

A Check examines one object against the bytes its volume holds; the
Monitor batches checks over objects whose last verification is older
than the inventory's grace period, deleting any object that fails and
advancing the checked timestamp of those that pass. The monitor worker
in pkg/worker drives FindCorruptedObjects repeatedly until no objects
are due.
*/
package integrity
