/*
Package node is the daemon's control core: the boot/advance state machine,
the map ingestion protocol, and operation admission.

A node moves through initializing, preboot, booting, active and stopping.
Initializing covers local work: mount the engine, load the superblock,
restore resident placement groups, bind the transport. Preboot decides
against the authority's retained epoch span whether the node may announce
itself; booting ends when a published map shows the node up at the
addresses it actually bound; active lasts until the map contradicts the
incarnation (marked down, readdressed, or removed), which triggers a
reboot of the protocol or a shutdown.

# Event loop

One goroutine owns every piece of lifecycle state: the superblock, the
state enum, the boot bookkeeping epochs, and the visible-map pointer.
Inbound traffic arrives as a closed set of event kinds (map batch,
creation request, client op, peering message, connection note) and each
kind has exactly one handler. Work that suspends on I/O, creation and
admission above all, leaves the loop on its own goroutine; mutation stays
on the loop.

# Map ingestion

A map batch commits as one transaction: every epoch's canonical full
encoding plus the updated superblock. Incrementals are applied in memory
against the previous epoch and re-encoded; disk only ever holds full
snapshots. After commit, the visible epoch advances strictly one map at a
time, releasing the gate and re-checking the lifecycle at each step, so
address changes or up/down flips in the middle of a batch are observed,
never jumped over. Batches with a leading gap are not applied; the node
resubscribes for the missing span, in delta mode while the authority still
retains it, otherwise in full mode from the authority's trim floor.

# Admission

SubmitOp holds a data-path operation until its referenced epoch is visible
and its placement group resident, then hands it to the configured sink.
The sink is the boundary of this daemon; object I/O lives behind it.
*/
package node
