/*
Package mapgate blocks operations until their required map epoch is
visible.

Every inbound operation names the minimum epoch it was built against. The
gate parks such operations while the node catches up, then releases them
in ascending epoch order as the ingestion path advances the visible map
one epoch at a time.

Waiters sit in a min-heap keyed by epoch, so AdvancedTo(e) pops exactly
the satisfied prefix. A waiter for epoch 3 can never stay blocked while a
waiter for epoch 5 proceeds.

WaitFor holds one lock across the "is the epoch already here" check and
waiter registration, closing the classic check-then-wait race against a
concurrent advancement.

On shutdown Close fails all parked and future waiters with ErrClosed so
nothing blocks forever on a map that will never arrive.

The gate orders epochs only; it does not hold map references. The node
composes it with the map cache to hand snapshots to released waiters.
*/
package mapgate
