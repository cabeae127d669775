package engine

import (
	"sync"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
)

// readModel holds the latest published turn for concurrent readers.
type readModel struct {
	mu   sync.RWMutex
	turn conversation.Turn
	ok   bool
}

func (r *readModel) TurnChanged(t conversation.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turn = t
	r.ok = true
}

func (r *readModel) ArtifactFinalized(string, conversation.Artifact) {}

func (r *readModel) get() (conversation.Turn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.turn, r.ok
}
