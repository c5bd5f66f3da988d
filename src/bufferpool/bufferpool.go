package bufferpool

import (
	"errors"
	"sync"

	"github.com/siltdb/siltdb/src"
	"github.com/siltdb/siltdb/src/pkg/assert"
	"github.com/siltdb/siltdb/src/pkg/common"
	"github.com/siltdb/siltdb/src/storage/file"
)

// ErrNoBuffersAvailable reports that every buffer is pinned. It is an
// ordinary result, not a protocol failure: callers retry, back off, or
// abort on their own schedule; the pool never blocks them.
var ErrNoBuffersAvailable = errors.New("no buffers available")

// Manager owns a fixed set of buffers and maps resident blocks onto them.
// At most one buffer holds any given block. Every public operation
// serializes on one pool-wide mutex.
type Manager struct {
	capacity int
	policy   ReplacementPolicy
	disk     DiskManager
	log      src.Logger

	mu        sync.Mutex
	pool      map[file.BlockID]*Buffer
	allocated int
	available int
	clock     int64
}

func New(capacity int, policy ReplacementPolicy, disk DiskManager) *Manager {
	assert.Assert(capacity > 0, "pool size must be greater than zero")

	return &Manager{
		capacity:  capacity,
		policy:    policy,
		disk:      disk,
		log:       src.NopLogger(),
		pool:      map[file.BlockID]*Buffer{},
		available: capacity,
	}
}

func (m *Manager) SetLogger(log src.Logger) {
	m.log = log
}

// Available returns the number of currently unpinned buffer slots.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.available
}

// Pin returns a pinned buffer holding blk, loading it from disk and
// evicting a victim if necessary. It never waits: when no victim exists
// it returns ErrNoBuffersAvailable immediately.
func (m *Manager) Pin(blk file.BlockID) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.pool[blk]
	if !ok {
		victim, err := m.reserveBufferAssumeLocked()
		if err != nil {
			return nil, err
		}

		if err := victim.assignToBlock(blk); err != nil {
			m.unreserveBufferAssumeLocked()
			return nil, err
		}
		m.pool[blk] = victim
		b = victim
	}

	if !b.IsPinned() {
		m.available--
	}
	b.pin()
	m.clock++
	b.touch(m.clock)
	return b, nil
}

// PinNew allocates a brand-new block in filename, formats it with fmtr,
// and returns a pinned buffer bound to it.
func (m *Manager) PinNew(filename string, fmtr PageFormatter) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	victim, err := m.reserveBufferAssumeLocked()
	if err != nil {
		return nil, err
	}

	blk, err := victim.assignToNew(filename, fmtr)
	if err != nil {
		m.unreserveBufferAssumeLocked()
		return nil, err
	}
	m.pool[blk] = victim
	m.log.Debugf("allocated new block %v", blk)

	m.available--
	victim.pin()
	m.clock++
	victim.touch(m.clock)
	return victim, nil
}

// Unpin releases one pin. Unpinning a buffer that is not pinned is a
// programming error and panics.
func (m *Manager) Unpin(b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.unpin()
	if !b.IsPinned() {
		m.available++
	}
}

// FlushAll persists every resident buffer whose dirty tag matches,
// regardless of pin state. The first failure is surfaced to the caller.
func (m *Manager) FlushAll(tag common.DirtyTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.pool {
		if !b.ModifiedBy().Matches(tag) {
			continue
		}
		if err := m.flushBufferAssumeLocked(b); err != nil {
			return err
		}
	}
	return nil
}

// FlushLog persists every buffer currently holding dirty log bytes.
func (m *Manager) FlushLog() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushLogAssumeLocked()
}

// reserveBufferAssumeLocked hands out a slot for rebinding: a fresh buffer
// while the pool is below capacity, otherwise an evicted victim with its
// old mapping removed and its contents flushed.
func (m *Manager) reserveBufferAssumeLocked() (*Buffer, error) {
	if m.allocated < m.capacity {
		m.allocated++
		return newBuffer(m.disk, &m.mu), nil
	}

	unpinned := make([]*Buffer, 0, m.available)
	for _, b := range m.pool {
		if !b.IsPinned() {
			unpinned = append(unpinned, b)
		}
	}

	victim := m.policy.ChooseVictim(unpinned)
	if victim == nil {
		return nil, ErrNoBuffersAvailable
	}
	assert.Assert(!victim.IsPinned(), "victim %v is pinned", victim.blk)

	if err := m.flushBufferAssumeLocked(victim); err != nil {
		return nil, err
	}

	blk, bound := victim.Block()
	assert.Assert(bound, "resident victim with no bound block")
	delete(m.pool, blk)
	m.log.Debugf("evicting block %v", blk)
	return victim, nil
}

// unreserveBufferAssumeLocked gives a reserved slot back after a failed
// rebinding. The buffer itself is discarded (an evicted victim was
// already flushed clean and unmapped); the next reservation allocates a
// fresh one, so the pool never shrinks below its capacity.
func (m *Manager) unreserveBufferAssumeLocked() {
	m.allocated--
}

// flushBufferAssumeLocked persists b's bytes, honoring the write-ahead
// rule: a data page's log dependency is made durable strictly before the
// page itself. Log pages are the log; writing them needs no prelude.
func (m *Manager) flushBufferAssumeLocked(b *Buffer) error {
	switch b.tag.Kind {
	case common.DirtyNone:
		return nil
	case common.DirtyLog:
		if err := m.disk.Write(b.blk, b.contents); err != nil {
			return err
		}
	case common.DirtyTxn:
		if b.lastLSN >= 0 {
			if err := m.flushLogAssumeLocked(); err != nil {
				return err
			}
		}
		if err := m.disk.Write(b.blk, b.contents); err != nil {
			return err
		}
	}

	b.tag = common.CleanTag()
	return nil
}

func (m *Manager) flushLogAssumeLocked() error {
	for _, b := range m.pool {
		if b.tag.Kind != common.DirtyLog {
			continue
		}
		if err := m.disk.Write(b.blk, b.contents); err != nil {
			return err
		}
		b.tag = common.CleanTag()
	}
	return nil
}
