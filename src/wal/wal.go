package wal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/siltdb/siltdb/src/bufferpool"
	"github.com/siltdb/siltdb/src/pkg/common"
	"github.com/siltdb/siltdb/src/storage/file"
)

// chainHeadOffset is where each log block stores the offset of the most
// recently written record's back-pointer. Zero means the block is empty.
const chainHeadOffset int32 = 0

// ErrRecordTooLarge reports a record that cannot fit even in an empty
// block.
var ErrRecordTooLarge = errors.New("log record exceeds block capacity")

// ErrLogUnusable reports that the manager lost its pinned buffer during a
// failed block rotation and can no longer accept appends.
var ErrLogUnusable = errors.New("log manager lost its buffer")

// Manager appends opaque typed records to the log file through one
// permanently pinned buffer. Records are chained backward within each
// block: every record ends with a back-pointer to the previous record's
// back-pointer, and the block header points at the newest one. A record's
// LSN is the number of the block holding it.
//
// Append and Iterator serialize on one lock so concurrent appenders can
// never interleave bytes inside a record.
type Manager struct {
	disk    bufferpool.DiskManager
	pool    *bufferpool.Manager
	logFile string

	mu         sync.Mutex
	buf        *bufferpool.Buffer
	currentBlk file.BlockID
	currentPos int32
}

// New opens the log at logFile. An empty log gets a fresh first block;
// otherwise the last existing block is pinned and the append position
// resumes just past its newest record.
func New(disk bufferpool.DiskManager, pool *bufferpool.Manager, logFile string) (*Manager, error) {
	m := &Manager{
		disk:    disk,
		pool:    pool,
		logFile: logFile,
	}

	size, err := disk.Size(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", logFile, err)
	}

	if size == 0 {
		buf, err := pool.PinNew(logFile, func(*file.Page) {})
		if err != nil {
			return nil, fmt.Errorf("failed to allocate first log block: %w", err)
		}
		m.buf = buf
		m.currentBlk, _ = buf.Block()
		m.currentPos = file.IntSize
		return m, nil
	}

	m.currentBlk = file.NewBlockID(logFile, size-1)
	buf, err := pool.Pin(m.currentBlk)
	if err != nil {
		return nil, fmt.Errorf("failed to pin last log block: %w", err)
	}
	m.buf = buf
	m.currentPos = buf.GetInt(chainHeadOffset) + file.IntSize
	return m, nil
}

// CurrentLSN returns the LSN the next appended record will carry.
func (m *Manager) CurrentLSN() common.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()

	return common.LSN(m.currentBlk.Num)
}

// Append writes the record to the current block, spilling into a freshly
// allocated block first when it does not fit. The old block is not forced
// to disk here; the pool's flush machinery decides when its bytes land.
// Returns the record's LSN.
func (m *Manager) Append(values []Value) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf == nil {
		return common.NilLSN, ErrLogUnusable
	}

	recSize := file.IntSize // trailing back-pointer
	for _, v := range values {
		recSize += v.encodedSize()
	}
	if file.IntSize+recSize >= m.disk.BlockSize() {
		return common.NilLSN, ErrRecordTooLarge
	}

	if m.currentPos+recSize >= m.disk.BlockSize() {
		if err := m.appendNewBlockAssumeLocked(); err != nil {
			return common.NilLSN, err
		}
	}

	lsn := common.LSN(m.currentBlk.Num)
	tag := common.LogTag(lsn)

	pos := m.currentPos
	for _, v := range values {
		switch v.Kind {
		case ValueInt:
			m.buf.SetInt(pos, v.Int, tag, lsn)
		case ValueString:
			m.buf.SetString(pos, v.Str, tag, lsn)
		}
		pos += v.encodedSize()
	}

	// Chain bookkeeping is part of the log itself, so it carries no log
	// dependency of its own.
	head := m.buf.GetInt(chainHeadOffset)
	m.buf.SetInt(pos, head, tag, common.NilLSN)
	m.buf.SetInt(chainHeadOffset, pos, tag, common.NilLSN)
	m.currentPos = pos + file.IntSize

	return lsn, nil
}

// Flush makes the log durable at least through lsn. Records in blocks
// older than the current one were already covered by an earlier flush or
// eviction, so anything below the current block number is a no-op.
func (m *Manager) Flush(lsn common.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn < common.LSN(m.currentBlk.Num) {
		return nil
	}
	return m.pool.FlushLog()
}

// Iterator flushes the log and returns a one-pass reverse reader over
// every record written so far, newest first. The caller owns closing it.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pool.FlushLog(); err != nil {
		return nil, err
	}
	return newIterator(m.pool, m.currentBlk)
}

func (m *Manager) appendNewBlockAssumeLocked() error {
	old := m.currentBlk
	m.pool.Unpin(m.buf)

	buf, err := m.pool.PinNew(m.logFile, func(*file.Page) {})
	if err != nil {
		// Re-pin the old block so the manager stays usable. If that
		// fails too there is nothing safe to write through anymore.
		prev, perr := m.pool.Pin(old)
		if perr != nil {
			m.buf = nil
			return fmt.Errorf("failed to extend log: %w", errors.Join(err, perr))
		}
		m.buf = prev
		return fmt.Errorf("failed to extend log: %w", err)
	}

	m.buf = buf
	m.currentBlk, _ = buf.Block()
	m.currentPos = file.IntSize
	return nil
}
