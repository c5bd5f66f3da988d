package file

import "fmt"

// BlockID names one fixed-size region of a file by its 0-based ordinal.
// It is an immutable value; equality and hashing cover both fields.
type BlockID struct {
	Filename string
	Num      int32
}

func NewBlockID(filename string, num int32) BlockID {
	return BlockID{Filename: filename, Num: num}
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.Filename, b.Num)
}
