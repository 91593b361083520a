/*
Package transport abstracts peer messaging between storage nodes.

The node core needs three things from a messenger: bound addresses to
advertise in its boot announcement, a way to push peering frames to other
nodes, and connection lifecycle notes it can log. Transport captures
exactly that surface; wire format and connection management live behind
it.

Bind works on candidate address sets. Zero ports are assigned by the
implementation, blank public hosts resolve to a local default, and blank
cluster hosts are handed back blank so the node can substitute them from
the public channel before advertising. Every bound address carries a nonce
fresh for this process incarnation: the same host and port rebound by a
restarted daemon compares unequal to its predecessor, which is what lets
the node detect its own stale map entries.

The package ships one implementation, the loopback Fabric, an in-process
fabric routing messages by node id. It backs single-process deployments
and the test harness. Delivery is synchronous on the sender's goroutine,
so handlers must hand work off rather than block.
*/
package transport
