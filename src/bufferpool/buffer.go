package bufferpool

import (
	"sync"

	"github.com/siltdb/siltdb/src/pkg/assert"
	"github.com/siltdb/siltdb/src/pkg/common"
	"github.com/siltdb/siltdb/src/storage/file"
)

// DiskManager is the block I/O surface the pool depends on.
// *file.Manager implements it.
type DiskManager interface {
	BlockSize() int32
	Read(blk file.BlockID, p *file.Page) error
	Write(blk file.BlockID, p *file.Page) error
	Append(filename string) (file.BlockID, error)
	Size(filename string) (int32, error)
}

// PageFormatter initializes a freshly allocated block before its first use.
type PageFormatter func(p *file.Page)

// Buffer is one pool slot: a page-sized byte region plus the bookkeeping
// the pool needs to evict and flush it safely. All fields are mutated
// under the pool lock: the setters take it themselves, so the dirty tag
// and page bytes never race with the pool's flush and eviction paths.
// Callers that share one block still serialize their own writes; the
// pool does not arbitrate them.
type Buffer struct {
	disk     DiskManager
	contents *file.Page
	// mu is the owning pool's mutex.
	mu *sync.Mutex

	blk   file.BlockID
	bound bool

	pins uint32
	tag  common.DirtyTag
	// lastLSN is the log position that must be durable before this
	// buffer's bytes may reach disk (the write-ahead rule).
	lastLSN common.LSN

	lastAccess int64
	prevAccess int64
}

func newBuffer(disk DiskManager, mu *sync.Mutex) *Buffer {
	return &Buffer{
		disk:     disk,
		contents: file.NewPage(disk.BlockSize()),
		mu:       mu,
		tag:      common.CleanTag(),
		lastLSN:  common.NilLSN,
	}
}

// Block returns the bound block, if any.
func (b *Buffer) Block() (file.BlockID, bool) {
	return b.blk, b.bound
}

func (b *Buffer) IsPinned() bool {
	return b.pins > 0
}

func (b *Buffer) ModifiedBy() common.DirtyTag {
	return b.tag
}

func (b *Buffer) LastLSN() common.LSN {
	return b.lastLSN
}

func (b *Buffer) Contents() *file.Page {
	assert.Assert(b.bound, "access to a buffer with no bound block")
	return b.contents
}

func (b *Buffer) GetInt(offset int32) int32 {
	assert.Assert(b.bound, "read from a buffer with no bound block")
	return b.contents.GetInt(offset)
}

func (b *Buffer) GetString(offset int32) string {
	assert.Assert(b.bound, "read from a buffer with no bound block")
	return b.contents.GetString(offset)
}

// SetInt writes v at offset and records who dirtied the buffer. A
// negative lsn means the write carries no log dependency. It takes the
// pool lock so the dirty state cannot race a concurrent flush.
func (b *Buffer) SetInt(offset int32, v int32, tag common.DirtyTag, lsn common.LSN) {
	b.mu.Lock()
	defer b.mu.Unlock()

	assert.Assert(b.bound, "write to a buffer with no bound block")
	b.contents.SetInt(offset, v)
	b.setModified(tag, lsn)
}

func (b *Buffer) SetString(offset int32, s string, tag common.DirtyTag, lsn common.LSN) {
	b.mu.Lock()
	defer b.mu.Unlock()

	assert.Assert(b.bound, "write to a buffer with no bound block")
	b.contents.SetString(offset, s)
	b.setModified(tag, lsn)
}

func (b *Buffer) setModified(tag common.DirtyTag, lsn common.LSN) {
	assert.Assert(!tag.IsClean(), "a modification must carry a dirty tag")
	b.tag = tag
	if lsn >= 0 && lsn > b.lastLSN {
		b.lastLSN = lsn
	}
}

func (b *Buffer) pin() {
	b.pins++
}

func (b *Buffer) unpin() {
	assert.Assert(b.pins > 0, "unpin of an unpinned buffer %v", b.blk)
	b.pins--
}

// touch shifts the two access timestamps used by LRU-2.
func (b *Buffer) touch(now int64) {
	b.prevAccess = b.lastAccess
	b.lastAccess = now
}

// assignToBlock rebinds the buffer to blk and loads its bytes. The caller
// must have flushed any pending modification first.
func (b *Buffer) assignToBlock(blk file.BlockID) error {
	assert.Assert(b.tag.IsClean(), "rebinding a dirty buffer %v", b.blk)

	if err := b.disk.Read(blk, b.contents); err != nil {
		b.bound = false
		return err
	}

	b.blk = blk
	b.bound = true
	b.pins = 0
	b.lastLSN = common.NilLSN
	return nil
}

// assignToNew appends a fresh block to filename, formats it, and writes it
// out immediately so the allocation survives a crash.
func (b *Buffer) assignToNew(filename string, fmtr PageFormatter) (file.BlockID, error) {
	assert.Assert(b.tag.IsClean(), "rebinding a dirty buffer %v", b.blk)

	blk, err := b.disk.Append(filename)
	if err != nil {
		return file.BlockID{}, err
	}

	b.contents.Clear()
	fmtr(b.contents)
	if err := b.disk.Write(blk, b.contents); err != nil {
		b.bound = false
		return file.BlockID{}, err
	}

	b.blk = blk
	b.bound = true
	b.pins = 0
	b.lastLSN = common.NilLSN
	return blk, nil
}
