package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// metaKey is the group's metadata record inside its own collection.
const metaKey = "pgmeta"

// Meta is the durable per-group record: identity, creation lineage, and
// the newest map epoch the group has consumed. It is rewritten in the same
// transaction as every epoch advance, so on restart the group resumes from
// exactly the epoch its peering state was written against.
type Meta struct {
	ID      types.PGID      `json:"id"`
	Epoch   types.Epoch     `json:"epoch"`
	History peering.History `json:"history"`
}

// put queues the record into a transaction.
func (m Meta) put(t *storage.Transaction, coll storage.CollectionID) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode meta for %s: %w", m.ID, err)
	}
	t.Put(coll, metaKey, b)
	return nil
}

// readMeta loads and sanity-checks the record for one group collection.
func readMeta(ctx context.Context, eng storage.Engine, id types.PGID, coll storage.CollectionID) (Meta, error) {
	var m Meta
	b, err := eng.Get(ctx, coll, metaKey)
	if err != nil {
		return m, fmt.Errorf("load meta for %s: %w", id, err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode meta for %s: %w", id, err)
	}
	if m.ID != id {
		return m, fmt.Errorf("collection %s holds meta for %s", coll, m.ID)
	}
	return m, nil
}
