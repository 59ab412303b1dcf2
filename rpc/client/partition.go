package client

import (
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// FNV-1a constants
const (
	offset64 = 14695981039346656037
	prime64  = 1099511628211
)

// partitionForKey routes a key to its partition using FNV-1a. The routing is
// pure client-side math: every client (and the server) derives the same
// partition for the same key, so no routing table is needed.
func partitionForKey(key string, numPartitions int) uint32 {
	var h uint64 = offset64
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return uint32(h % uint64(numPartitions))
}

// partitionState is the client-side view of one partition: the session id
// the server assigned for it and the response sequencer that re-establishes
// issue order and tracks the partition's log index watermark.
type partitionState struct {
	id        uint32
	sessionID uint64
	seq       *sequencer
}
