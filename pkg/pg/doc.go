/*
Package pg manages resident placement groups: creation, startup restore,
registration, and epoch advancement.

A placement group exists on a node as a storage collection plus an
in-memory PG object wrapping its peering engine. The package deliberately
stops at the group boundary: what the peering engine does with its
replicas is behind the peering.Engine interface, and object data is out of
scope entirely.

# Creation

Creation requests name the map epoch they were decided at. The pool
definition and initial placement come from that start map, but admission
for authority-driven requests runs against the live map: if the pool is
gone or has finished its creating phase by the time the request arrives,
the request is a stale leftover and is dropped without effect. The drop is
silent on purpose; re-creating a group the cluster has moved past would
resurrect deleted state.

The group's collection, its metadata record and its peering engine's
initial state commit in a single transaction. Either the group fully
exists on disk or it does not exist at all.

# Registry

The registry (Map) is where everything that needs a group meets it:
operations wait for groups that are mid-creation, concurrent creation
requests for the same identity collapse into one attempt, and shutdown
fails every parked waiter so nothing leaks. Creation is strictly
single-flight per identity; the elected caller's outcome is shared by
every waiter that arrived before resolution.

# Epoch advancement

Groups consume map epochs strictly one at a time, through every
intermediate epoch, recomputing placement at each step. Skipping epochs
could skip an interval change, which the peering engine must never miss.
Each AdvanceTo call commits its whole walk, the peering engine's writes
included, in one transaction with the group's metadata, so a group can
never restart from an epoch its peering state was not written against.

# Startup

LoadAll enumerates the engine's collections and rebuilds each recognized
group from its metadata: the map it last consumed is resolved from the
local store, placement is recomputed, and the peering engine restores its
own state. Temp collections left behind by data moves are skipped;
unrecognized collections are logged and never touched. A group that fails
to rebuild aborts startup.
*/
package pg
