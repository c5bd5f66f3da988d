package bufferpool

import (
	"errors"
	"sync"
	"testing"

	"github.com/panjf2000/ants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/siltdb/siltdb/src/pkg/common"
	"github.com/siltdb/siltdb/src/storage/file"
)

const testBlockSize int32 = 128

// fakeDisk keeps blocks in memory and records every write in order so
// tests can check flush ordering and idempotency. Reads and appends can
// be made to fail for fault-path tests.
type fakeDisk struct {
	blockSize int32

	mu        sync.Mutex
	blocks    map[file.BlockID][]byte
	sizes     map[string]int32
	reads     int
	writeLog  []file.BlockID
	readErr   error
	appendErr error
}

var _ DiskManager = &fakeDisk{}

func newFakeDisk(blockSize int32) *fakeDisk {
	return &fakeDisk{
		blockSize: blockSize,
		blocks:    map[file.BlockID][]byte{},
		sizes:     map[string]int32{},
	}
}

func (d *fakeDisk) BlockSize() int32 { return d.blockSize }

func (d *fakeDisk) Read(blk file.BlockID, p *file.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readErr != nil {
		return d.readErr
	}

	d.reads++
	p.Clear()
	if data, ok := d.blocks[blk]; ok {
		copy(p.Contents(), data)
	}
	return nil
}

func (d *fakeDisk) Write(blk file.BlockID, p *file.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := make([]byte, d.blockSize)
	copy(data, p.Contents())
	d.blocks[blk] = data
	d.writeLog = append(d.writeLog, blk)
	return nil
}

func (d *fakeDisk) Append(filename string) (file.BlockID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.appendErr != nil {
		return file.BlockID{}, d.appendErr
	}

	blk := file.NewBlockID(filename, d.sizes[filename])
	d.sizes[filename]++
	d.blocks[blk] = make([]byte, d.blockSize)
	return blk, nil
}

func (d *fakeDisk) Size(filename string) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sizes[filename], nil
}

func (d *fakeDisk) setReadErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

func (d *fakeDisk) setAppendErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendErr = err
}

func (d *fakeDisk) writes() []file.BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]file.BlockID, len(d.writeLog))
	copy(out, d.writeLog)
	return out
}

// seed stores a block whose first int is v.
func (d *fakeDisk) seed(blk file.BlockID, v int32) {
	p := file.NewPage(d.blockSize)
	p.SetInt(0, v)
	data := make([]byte, d.blockSize)
	copy(data, p.Contents())

	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[blk] = data
	if d.sizes[blk.Filename] <= blk.Num {
		d.sizes[blk.Filename] = blk.Num + 1
	}
}

func TestPinLoadsFromDisk(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk := file.NewBlockID("tbl", 0)
	disk.seed(blk, 42)

	m := New(2, NewLRU2(), disk)

	buf, err := m.Pin(blk)
	require.NoError(t, err)
	assert.Equal(t, int32(42), buf.GetInt(0))
	assert.Equal(t, 1, m.Available())
}

func TestPinResidentBlockReusesBuffer(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk := file.NewBlockID("tbl", 0)
	disk.seed(blk, 7)

	m := New(2, NewLRU2(), disk)

	first, err := m.Pin(blk)
	require.NoError(t, err)
	second, err := m.Pin(blk)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, disk.reads, "resident block must not be re-read")
	assert.Equal(t, 1, m.Available(), "one slot holds both pins")
}

func TestUnpinRestoresAvailable(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk := file.NewBlockID("tbl", 0)
	disk.seed(blk, 0)

	m := New(3, NewLRU2(), disk)
	require.Equal(t, 3, m.Available())

	buf, err := m.Pin(blk)
	require.NoError(t, err)
	_, err = m.Pin(blk)
	require.NoError(t, err)
	require.Equal(t, 2, m.Available())

	m.Unpin(buf)
	assert.Equal(t, 2, m.Available(), "slot stays claimed while pinned")
	m.Unpin(buf)
	assert.Equal(t, 3, m.Available())
}

func TestUnpinOfUnpinnedBufferPanics(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk := file.NewBlockID("tbl", 0)
	disk.seed(blk, 0)

	m := New(1, NewLRU2(), disk)
	buf, err := m.Pin(blk)
	require.NoError(t, err)
	m.Unpin(buf)

	assert.Panics(t, func() { m.Unpin(buf) })
}

func TestPinFailsWhenAllBuffersPinned(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	for i := int32(0); i < 3; i++ {
		disk.seed(file.NewBlockID("tbl", i), i)
	}

	m := New(2, NewLRU2(), disk)

	_, err := m.Pin(file.NewBlockID("tbl", 0))
	require.NoError(t, err)
	_, err = m.Pin(file.NewBlockID("tbl", 1))
	require.NoError(t, err)
	require.Equal(t, 0, m.Available())

	_, err = m.Pin(file.NewBlockID("tbl", 2))
	assert.ErrorIs(t, err, ErrNoBuffersAvailable)

	_, err = m.PinNew("tbl", func(*file.Page) {})
	assert.ErrorIs(t, err, ErrNoBuffersAvailable)
}

func TestPinNewAllocatesAndPersistsImmediately(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	m := New(1, NewLRU2(), disk)

	buf, err := m.PinNew("tbl", func(p *file.Page) {
		p.SetInt(0, 1234)
	})
	require.NoError(t, err)

	blk, bound := buf.Block()
	require.True(t, bound)
	assert.Equal(t, file.NewBlockID("tbl", 0), blk)
	assert.True(t, buf.IsPinned())
	assert.Equal(t, 0, m.Available())

	// The formatted block must already be on disk.
	require.Equal(t, []file.BlockID{blk}, disk.writes())
	p := file.NewPage(testBlockSize)
	require.NoError(t, disk.Read(blk, p))
	assert.Equal(t, int32(1234), p.GetInt(0))
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk0 := file.NewBlockID("tbl", 0)
	blk1 := file.NewBlockID("tbl", 1)
	disk.seed(blk0, 0)
	disk.seed(blk1, 0)

	m := New(1, NewLRU2(), disk)

	buf, err := m.Pin(blk0)
	require.NoError(t, err)
	buf.SetInt(0, 555, common.TxnTag(1), common.NilLSN)
	m.Unpin(buf)

	// Rebinding the only slot must write blk0 out first.
	_, err = m.Pin(blk1)
	require.NoError(t, err)
	require.Equal(t, []file.BlockID{blk0}, disk.writes())

	p := file.NewPage(testBlockSize)
	require.NoError(t, disk.Read(blk0, p))
	assert.Equal(t, int32(555), p.GetInt(0))
}

func TestFlushAllMatchesTagOnly(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk0 := file.NewBlockID("tbl", 0)
	blk1 := file.NewBlockID("tbl", 1)
	disk.seed(blk0, 0)
	disk.seed(blk1, 0)

	m := New(2, NewLRU2(), disk)

	b0, err := m.Pin(blk0)
	require.NoError(t, err)
	b1, err := m.Pin(blk1)
	require.NoError(t, err)

	b0.SetInt(0, 1, common.TxnTag(1), common.NilLSN)
	b1.SetInt(0, 2, common.TxnTag(2), common.NilLSN)

	require.NoError(t, m.FlushAll(common.TxnTag(1)))
	assert.Equal(t, []file.BlockID{blk0}, disk.writes())
	assert.True(t, b0.ModifiedBy().IsClean())
	assert.Equal(t, common.TxnTag(2), b1.ModifiedBy())

	// A pinned buffer is still flushed when its tag matches.
	require.NoError(t, m.FlushAll(common.TxnTag(2)))
	assert.Equal(t, []file.BlockID{blk0, blk1}, disk.writes())
}

func TestFlushWritesLogBeforeData(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	logBlk := file.NewBlockID("wal", 0)
	dataBlk := file.NewBlockID("tbl", 0)
	disk.seed(logBlk, 0)
	disk.seed(dataBlk, 0)

	m := New(2, NewLRU2(), disk)

	logBuf, err := m.Pin(logBlk)
	require.NoError(t, err)
	logBuf.SetInt(4, 99, common.LogTag(0), common.LSN(0))

	dataBuf, err := m.Pin(dataBlk)
	require.NoError(t, err)
	dataBuf.SetInt(0, 1, common.TxnTag(5), common.LSN(0))

	require.NoError(t, m.FlushAll(common.TxnTag(5)))
	require.Equal(t, []file.BlockID{logBlk, dataBlk}, disk.writes(),
		"log bytes must reach disk before the data page")

	// Nothing left dirty: a second flush writes nothing.
	require.NoError(t, m.FlushAll(common.TxnTag(5)))
	require.NoError(t, m.FlushLog())
	assert.Equal(t, []file.BlockID{logBlk, dataBlk}, disk.writes())
}

func TestConcurrentModifyAndFlushLog(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk := file.NewBlockID("wal", 0)
	disk.seed(blk, 0)

	m := New(2, NewLRU2(), disk)

	buf, err := m.Pin(blk)
	require.NoError(t, err)

	// A writer re-dirtying a log buffer must never race the pool clearing
	// its tag, or freshly written bytes would be marked clean and a later
	// flush would skip them.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int32(0); i < 1000; i++ {
			buf.SetInt(4, i, common.LogTag(0), common.LSN(0))
		}
	}()
	for i := 0; i < 1000; i++ {
		require.NoError(t, m.FlushLog())
	}
	<-done

	buf.SetInt(4, 9999, common.LogTag(0), common.LSN(0))
	require.NoError(t, m.FlushLog())

	p := file.NewPage(testBlockSize)
	require.NoError(t, disk.Read(blk, p))
	assert.Equal(t, int32(9999), p.GetInt(4), "the last write must be durable")
}

func TestFailedReadReturnsSlotAfterEviction(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk0 := file.NewBlockID("tbl", 0)
	blk1 := file.NewBlockID("tbl", 1)
	blk2 := file.NewBlockID("tbl", 2)
	disk.seed(blk0, 0)
	disk.seed(blk1, 0)
	disk.seed(blk2, 22)

	m := New(1, NewLRU2(), disk)

	buf, err := m.Pin(blk0)
	require.NoError(t, err)
	m.Unpin(buf)

	readFailure := errors.New("read failure")
	disk.setReadErr(readFailure)
	_, err = m.Pin(blk1)
	require.ErrorIs(t, err, readFailure)
	assert.Equal(t, 1, m.Available())

	// The slot the evicted victim occupied must still be usable.
	disk.setReadErr(nil)
	got, err := m.Pin(blk2)
	require.NoError(t, err)
	assert.Equal(t, int32(22), got.GetInt(0))
	assert.Equal(t, 0, m.Available())
}

func TestFailedAssignmentDoesNotShrinkPool(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk0 := file.NewBlockID("tbl", 0)
	blk1 := file.NewBlockID("tbl", 1)
	disk.seed(blk0, 0)
	disk.seed(blk1, 0)

	m := New(2, NewLRU2(), disk)

	readFailure := errors.New("read failure")
	disk.setReadErr(readFailure)
	_, err := m.Pin(blk0)
	require.ErrorIs(t, err, readFailure)
	assert.Equal(t, 2, m.Available())

	appendFailure := errors.New("append failure")
	disk.setAppendErr(appendFailure)
	_, err = m.PinNew("tbl", func(*file.Page) {})
	require.ErrorIs(t, err, appendFailure)
	assert.Equal(t, 2, m.Available())

	// Both slots still exist: two pins succeed, a third finds no victim.
	disk.setReadErr(nil)
	disk.setAppendErr(nil)
	_, err = m.Pin(blk0)
	require.NoError(t, err)
	_, err = m.Pin(blk1)
	require.NoError(t, err)
	_, err = m.PinNew("tbl", func(*file.Page) {})
	assert.ErrorIs(t, err, ErrNoBuffersAvailable)
}

func TestLRU2EvictionPrefersColdestBuffer(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blkA := file.NewBlockID("tbl", 0)
	blkB := file.NewBlockID("tbl", 1)
	blkC := file.NewBlockID("tbl", 2)
	disk.seed(blkA, 10)
	disk.seed(blkB, 11)
	disk.seed(blkC, 12)

	m := New(2, NewLRU2(), disk)

	bufA, err := m.Pin(blkA)
	require.NoError(t, err)
	bufB, err := m.Pin(blkB)
	require.NoError(t, err)

	// Touch A a second time so B's second-to-last access is older.
	_, err = m.Pin(blkA)
	require.NoError(t, err)
	m.Unpin(bufA)
	m.Unpin(bufA)
	m.Unpin(bufB)

	_, err = m.Pin(blkC)
	require.NoError(t, err)

	// A survived; B was the victim.
	again, err := m.Pin(blkA)
	require.NoError(t, err)
	assert.Same(t, bufA, again)
	assert.Equal(t, 3, disk.reads, "pinning A again must hit the cache")
}

type mockPolicy struct {
	mock.Mock
}

var _ ReplacementPolicy = &mockPolicy{}

func (p *mockPolicy) ChooseVictim(unpinned []*Buffer) *Buffer {
	args := p.Called(unpinned)
	if v := args.Get(0); v != nil {
		return v.(*Buffer)
	}
	return nil
}

func TestPinConsultsPolicyForVictim(t *testing.T) {
	disk := newFakeDisk(testBlockSize)
	blk0 := file.NewBlockID("tbl", 0)
	blk1 := file.NewBlockID("tbl", 1)
	disk.seed(blk0, 0)
	disk.seed(blk1, 0)

	policy := new(mockPolicy)
	m := New(1, policy, disk)

	buf, err := m.Pin(blk0)
	require.NoError(t, err)
	m.Unpin(buf)

	policy.On("ChooseVictim", mock.Anything).Return(buf).Once()

	_, err = m.Pin(blk1)
	require.NoError(t, err)

	_, resident := m.pool[blk0]
	assert.False(t, resident, "victim's old mapping must be removed")
	policy.AssertExpectations(t)
}

func TestConcurrentPinUnpin(t *testing.T) {
	const (
		poolSize     = 8
		numBlocks    = 32
		numWorkers   = 4
		opsPerWorker = 500
	)

	disk := newFakeDisk(testBlockSize)
	for i := int32(0); i < numBlocks; i++ {
		disk.seed(file.NewBlockID("tbl", i), i)
	}

	m := New(poolSize, NewLRU2(), disk)

	workers, err := ants.NewPool(numWorkers)
	require.NoError(t, err)
	defer workers.Release()

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		workerID := w
		require.NoError(t, workers.Submit(func() {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				num := int32((i*7 + workerID*3) % numBlocks)
				blk := file.NewBlockID("tbl", num)

				buf, err := m.Pin(blk)
				if err != nil {
					// Every buffer momentarily pinned; retry later.
					assert.ErrorIs(t, err, ErrNoBuffersAvailable)
					continue
				}
				assert.Equal(t, num, buf.GetInt(0))
				m.Unpin(buf)
			}
		}))
	}
	wg.Wait()

	assert.Equal(t, poolSize, m.Available(), "all pins released")
}
