package wal

import "github.com/siltdb/siltdb/src/storage/file"

// ValueKind discriminates the two value types a log record may carry.
type ValueKind uint8

const (
	ValueInt ValueKind = iota
	ValueString
)

// Value is one element of a log record: a signed integer or a string.
// The log manager treats records as opaque; only the recovery layer
// knows what the values mean.
type Value struct {
	Kind ValueKind
	Int  int32
	Str  string
}

func IntValue(v int32) Value {
	return Value{Kind: ValueInt, Int: v}
}

func StringValue(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

func (v Value) encodedSize() int32 {
	if v.Kind == ValueString {
		return file.MaxLength(len(v.Str))
	}
	return file.IntSize
}

// Record reads one log record's values back in the order they were
// appended. The readers do no bounds accounting beyond the record's own
// bytes; reading past the last value is a programming error.
type Record struct {
	p   *file.Page
	pos int32
}

func newRecord(data []byte) *Record {
	return &Record{p: file.NewPageFromBytes(data)}
}

// Bytes returns the record's raw encoded values.
func (r *Record) Bytes() []byte {
	return r.p.Contents()
}

func (r *Record) NextInt() int32 {
	v := r.p.GetInt(r.pos)
	r.pos += file.IntSize
	return v
}

func (r *Record) NextString() string {
	s := r.p.GetString(r.pos)
	r.pos += file.MaxLength(len(s))
	return s
}
