package record

import "sync"

// revisionSeq hands out revisions from one counter shared by every
// conversation, so revisions are comparable across conversations.
type revisionSeq struct {
	mu   sync.Mutex
	last int64
}

func newRevisionSeq() *revisionSeq {
	return &revisionSeq{}
}

func (g *revisionSeq) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	return g.last
}
