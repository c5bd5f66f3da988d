package common

import "fmt"

// TxnID identifies the transaction that dirtied a data buffer.
type TxnID int32

const NilTxnID TxnID = -1

// LSN is a log sequence number. A log record's LSN equals the number of
// the log block that holds it, so every record in one block shares an LSN.
type LSN int32

// NilLSN marks a buffer write that carries no log dependency. The log
// manager uses it for its own bookkeeping writes, which are part of the
// log itself and need nothing flushed ahead of them.
const NilLSN LSN = -1

type DirtyKind uint8

const (
	DirtyNone DirtyKind = iota
	DirtyTxn
	DirtyLog
)

// DirtyTag records who last modified a buffer. Data pages are tagged with
// the owning transaction; log pages are tagged with the log block they
// hold. The original engine overloaded one integer for both roles; the two
// are kept apart here so flush-by-transaction and flush-by-log-block stay
// distinct concepts served by one mechanism.
type DirtyTag struct {
	Kind DirtyKind
	Txn  TxnID // valid when Kind == DirtyTxn
	Log  LSN   // valid when Kind == DirtyLog
}

func CleanTag() DirtyTag {
	return DirtyTag{Kind: DirtyNone}
}

func TxnTag(id TxnID) DirtyTag {
	return DirtyTag{Kind: DirtyTxn, Txn: id}
}

func LogTag(lsn LSN) DirtyTag {
	return DirtyTag{Kind: DirtyLog, Log: lsn}
}

func (t DirtyTag) IsClean() bool {
	return t.Kind == DirtyNone
}

func (t DirtyTag) Matches(other DirtyTag) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case DirtyTxn:
		return t.Txn == other.Txn
	case DirtyLog:
		return t.Log == other.Log
	default:
		return false
	}
}

func (t DirtyTag) String() string {
	switch t.Kind {
	case DirtyTxn:
		return fmt.Sprintf("txn(%d)", t.Txn)
	case DirtyLog:
		return fmt.Sprintf("log(%d)", t.Log)
	default:
		return "clean"
	}
}
