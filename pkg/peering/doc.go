/*
Package peering is the boundary between the node daemon and a placement
group's internal consensus machinery.

The daemon does four things with an Engine and nothing more: initialize
it inside the creation transaction, feed it every map epoch in order
(AdvanceTo), restore it at startup, and route peer traffic to it. State
the engine wants durable rides the caller's transaction, so peering state
and group metadata always commit together.

StateEngine is the in-tree implementation: interval tracking (a change in
role or membership starts a new interval at that epoch) with the record
persisted in the group's collection. It never exchanges messages; real
replica coordination plugs in through Factory without the daemon
noticing.
*/
package peering
