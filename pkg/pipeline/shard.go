package pipeline

import "sync"

// shardCount is the minimum the spec requires (§5: "a shared shard-striped
// lock map keyed by (pair_id, source_msg_id) with >= 1024 shards").
const shardCount = 1024

// mappingLocks serializes edit/delete dispatch for the same
// (pair_id, source_msg_id) key without a map entry per key, which would
// need its own cleanup. A fixed array of mutexes, indexed by hash, trades
// a small amount of unrelated-key contention for zero bookkeeping.
type mappingLocks struct {
	locks [shardCount]sync.Mutex
}

func newMappingLocks() *mappingLocks {
	return &mappingLocks{}
}

func (m *mappingLocks) shard(pairID, sourceMsgID int64) *sync.Mutex {
	h := uint64(pairID)*1099511628211 ^ uint64(sourceMsgID)
	return &m.locks[h%shardCount]
}

func (m *mappingLocks) Lock(pairID, sourceMsgID int64) {
	m.shard(pairID, sourceMsgID).Lock()
}

func (m *mappingLocks) Unlock(pairID, sourceMsgID int64) {
	m.shard(pairID, sourceMsgID).Unlock()
}
