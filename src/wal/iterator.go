package wal

import (
	"fmt"

	"github.com/siltdb/siltdb/src/bufferpool"
	"github.com/siltdb/siltdb/src/pkg/assert"
	"github.com/siltdb/siltdb/src/storage/file"
)

// Iterator walks the log backward, newest record first, following each
// block's back-pointer chain and then stepping to the previous block. It
// is lazy, single-pass, and not restartable. It pins one log block at a
// time through the pool; Close releases the pin.
type Iterator struct {
	pool *bufferpool.Manager
	blk  file.BlockID
	buf  *bufferpool.Buffer
	// head is the back-pointer offset of the record Next will yield;
	// zero means the current block is exhausted.
	head int32
}

func newIterator(pool *bufferpool.Manager, start file.BlockID) (*Iterator, error) {
	buf, err := pool.Pin(start)
	if err != nil {
		return nil, fmt.Errorf("failed to pin log block %v: %w", start, err)
	}

	it := &Iterator{
		pool: pool,
		blk:  start,
		buf:  buf,
		head: buf.GetInt(chainHeadOffset),
	}
	if it.head == 0 {
		if err := it.moveBack(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) HasNext() bool {
	return it.buf != nil
}

// Next yields the next record going backward in time. The record owns a
// copy of its bytes and stays valid after the iterator advances.
func (it *Iterator) Next() (*Record, error) {
	assert.Assert(it.buf != nil, "Next called on an exhausted log iterator")

	backPtr := it.head
	prev := it.buf.GetInt(backPtr)

	// The previous record's back-pointer sits right before this record's
	// values; with no previous record the values start after the header.
	// Both cases collapse to prev+IntSize.
	start := prev + file.IntSize
	data := make([]byte, backPtr-start)
	copy(data, it.buf.Contents().Contents()[start:backPtr])

	it.head = prev
	if it.head == 0 {
		if err := it.moveBack(); err != nil {
			return nil, err
		}
	}
	return newRecord(data), nil
}

// Close releases the currently pinned log block. Safe to call more than
// once.
func (it *Iterator) Close() {
	if it.buf != nil {
		it.pool.Unpin(it.buf)
		it.buf = nil
	}
}

// moveBack releases the current block and pins the previous one, skipping
// any block with an empty chain, until block 0 is exhausted.
func (it *Iterator) moveBack() error {
	for {
		it.pool.Unpin(it.buf)
		it.buf = nil

		if it.blk.Num == 0 {
			return nil
		}

		it.blk = file.NewBlockID(it.blk.Filename, it.blk.Num-1)
		buf, err := it.pool.Pin(it.blk)
		if err != nil {
			return fmt.Errorf("failed to pin log block %v: %w", it.blk, err)
		}

		it.buf = buf
		it.head = buf.GetInt(chainHeadOffset)
		if it.head != 0 {
			return nil
		}
	}
}
