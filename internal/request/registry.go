package request

import "sync"

// TxnRegistry tracks every transaction id observed during the process
// lifetime. Ids are single use; a repeated id is rejected even under
// concurrent submission, so the membership check and the insert happen in
// one critical section.
type TxnRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTxnRegistry creates an empty registry.
func NewTxnRegistry() *TxnRegistry {
	return &TxnRegistry{seen: make(map[string]struct{})}
}

// CheckAndInsert records the id and reports whether it was new. A false
// return means the id was already used.
func (r *TxnRegistry) CheckAndInsert(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

// Len reports how many ids have been observed.
func (r *TxnRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
