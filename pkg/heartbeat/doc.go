/*
Package heartbeat maintains liveness sessions with the peers this node
shares placement groups with.

The peer set is never configured. After every map epoch the node walks its
resident groups and feeds each up and acting member to the service, tagged
with the epoch that named it; peers no current group names age out at the
next prune. A node with no groups pings nobody.

Pings are small node-level frames on the regular transport. Failure to
reach a peer is information, not an error: the service counts and logs it
and leaves the interpretation (marking peers down, reporting to the
authority) to layers that own that decision.
*/
package heartbeat
