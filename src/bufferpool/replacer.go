package bufferpool

// ReplacementPolicy selects an eviction victim. The pool hands it every
// resident unpinned buffer; returning nil means no victim exists.
type ReplacementPolicy interface {
	ChooseVictim(unpinned []*Buffer) *Buffer
}

// LRU2 ranks candidates by the time of their second-most-recent access,
// oldest first. A buffer has to be touched twice before it looks warm,
// which keeps one-pass sequential scans from flushing the working set the
// way plain LRU lets them. Ties fall back to the most-recent access time.
type LRU2 struct{}

func NewLRU2() LRU2 {
	return LRU2{}
}

var _ ReplacementPolicy = LRU2{}

func (LRU2) ChooseVictim(unpinned []*Buffer) *Buffer {
	if len(unpinned) == 0 {
		return nil
	}

	minPrev := unpinned[0].prevAccess
	for _, b := range unpinned[1:] {
		if b.prevAccess < minPrev {
			minPrev = b.prevAccess
		}
	}

	var victim *Buffer
	for _, b := range unpinned {
		if b.prevAccess != minPrev {
			continue
		}
		if victim == nil || b.lastAccess < victim.lastAccess {
			victim = b
		}
	}
	return victim
}
