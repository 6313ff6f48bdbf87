package evm

import (
	"strings"
	"sync"
)

// nonceTracker remembers the highest nonce submitted per sender so a
// transaction prepared before the previous one reaches the mempool does not
// reuse its nonce.
type nonceTracker struct {
	mu   sync.Mutex
	next map[string]uint64 // lowercased address -> one past the highest submitted nonce
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{next: make(map[string]uint64)}
}

// peek returns the higher of the node's pending nonce and the tracked one.
func (n *nonceTracker) peek(address string, pending uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if local, ok := n.next[strings.ToLower(address)]; ok && local > pending {
		return local
	}
	return pending
}

// submitted records that nonce was accepted by the node.
func (n *nonceTracker) submitted(address string, nonce uint64) {
	key := strings.ToLower(address)

	n.mu.Lock()
	defer n.mu.Unlock()

	if nonce+1 > n.next[key] {
		n.next[key] = nonce + 1
	}
}
