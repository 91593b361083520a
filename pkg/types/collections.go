package types

import "strings"

// Collection name prefixes for the per-placement-group keyspaces inside the
// storage engine. The meta collection is owned by the map store and is not
// named here.
const (
	pgCollectionPrefix   = "pg_"
	tempCollectionPrefix = "pgtemp_"
)

// CollectionKind classifies a storage collection found at startup.
type CollectionKind int

const (
	// CollectionUnknown marks a collection this daemon does not recognize.
	// Load skips it with a warning; it is never touched.
	CollectionUnknown CollectionKind = iota
	// CollectionPG is a placement group's durable keyspace.
	CollectionPG
	// CollectionPGTemp is scratch space left behind by a data move. Safe to
	// ignore at load; cleanup is deferred.
	CollectionPGTemp
)

// CollectionName returns the storage collection name of the placement
// group's durable keyspace.
func (p PGID) CollectionName() string {
	return pgCollectionPrefix + p.String()
}

// TempCollectionName returns the name of the group's scratch keyspace.
func (p PGID) TempCollectionName() string {
	return tempCollectionPrefix + p.String()
}

// ClassifyCollection parses a collection name back into the placement-group
// identity that owns it. Names that parse under neither prefix classify as
// CollectionUnknown.
func ClassifyCollection(name string) (PGID, CollectionKind) {
	if rest, ok := strings.CutPrefix(name, tempCollectionPrefix); ok {
		if id, err := ParsePGID(rest); err == nil {
			return id, CollectionPGTemp
		}
		return PGID{}, CollectionUnknown
	}
	if rest, ok := strings.CutPrefix(name, pgCollectionPrefix); ok {
		if id, err := ParsePGID(rest); err == nil {
			return id, CollectionPG
		}
		return PGID{}, CollectionUnknown
	}
	return PGID{}, CollectionUnknown
}
