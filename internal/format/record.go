package format

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Record is the on-heap mirror of a process descriptor.
type Record struct {
	PID          uint32
	State        uint32
	StackBase    uint32
	StackPointer uint32
	Entry        uint32
	Priority     uint32
	Age          uint32
	Msg          uint32
	Name         string
}

// TruncateName clips name so it fits NameCapacity with its NUL terminator.
// The cut backs off to a rune boundary so a multibyte rune is never split.
func TruncateName(name string) string {
	if len(name) < NameCapacity {
		return name
	}
	n := NameCapacity - 1
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

// PutRecord encodes r into b, which must hold at least RecordSize bytes.
func PutRecord(b []byte, r Record) error {
	if len(b) < RecordSize {
		return fmt.Errorf("record: %w", ErrTruncated)
	}
	PutU32(b, RecordPIDOffset, r.PID)
	PutU32(b, RecordStateOffset, r.State)
	PutU32(b, RecordStackBaseOffset, r.StackBase)
	PutU32(b, RecordStackPointerOffset, r.StackPointer)
	PutU32(b, RecordEntryOffset, r.Entry)
	PutU32(b, RecordPriorityOffset, r.Priority)
	PutU32(b, RecordAgeOffset, r.Age)
	PutU32(b, RecordMsgOffset, r.Msg)

	name := b[RecordNameOffset : RecordNameOffset+NameCapacity]
	clear(name)
	copy(name, TruncateName(r.Name))
	return nil
}

// ReadRecord decodes a descriptor record from b.
func ReadRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("record: %w", ErrTruncated)
	}
	name := b[RecordNameOffset : RecordNameOffset+NameCapacity]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Record{
		PID:          ReadU32(b, RecordPIDOffset),
		State:        ReadU32(b, RecordStateOffset),
		StackBase:    ReadU32(b, RecordStackBaseOffset),
		StackPointer: ReadU32(b, RecordStackPointerOffset),
		Entry:        ReadU32(b, RecordEntryOffset),
		Priority:     ReadU32(b, RecordPriorityOffset),
		Age:          ReadU32(b, RecordAgeOffset),
		Msg:          ReadU32(b, RecordMsgOffset),
		Name:         string(name),
	}, nil
}
