/*
Package placement decides which nodes host a placement group.

The Placer interface is the boundary the node daemon consumes; the real
cluster-topology-aware algorithm lives behind it. The in-tree HRW
implementation (highest random weight over xxhash scores) is complete and
deterministic, which is what the boot, creation and peering paths need:
every node computing placement for the same identity on the same map must
land on the same up set, acting set and roles.

Conventions:

  - up[0] is the primary
  - acting == up until temporary remappings exist
  - role is the node's index in acting, RoleNone when absent
  - down and weight-0 members never appear in placements
  - erasure-coded replica positions of one shard rank identical node
    sets; the replica position selects the role
*/
package placement
