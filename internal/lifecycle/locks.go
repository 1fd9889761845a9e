package lifecycle

import (
	"hash/fnv"
	"sync"
)

const numCaseShards = 64

// caseLocks serializes mutations per case id. Ids hash onto a fixed set of
// shards, so two cases may occasionally share a lock but one case never
// holds two.
type caseLocks struct {
	shards [numCaseShards]sync.Mutex
}

func (l *caseLocks) lock(caseID string) func() {
	mu := &l.shards[shardOf(caseID)]
	mu.Lock()
	return mu.Unlock
}

func shardOf(caseID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(caseID))
	return h.Sum32() % numCaseShards
}
