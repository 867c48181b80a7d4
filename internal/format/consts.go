// Package format houses the low-level layouts the kernel core writes into its
// managed regions: heap block headers and process descriptor records. The
// codecs here are allocation-free and know nothing about allocation policy so
// the allocator and process table can share them.
package format

// Heap block header layout (little-endian, 16 bytes):
//
//	0x00  magic   "KBLK"
//	0x04  size    payload length in bytes (multiple of 8)
//	0x08  flags   bit0 = free
//	0x0C  next    offset of the next header, NoNext at the tail
const (
	BlockHeaderSize  = 16
	BlockMagic       = 0x4B4C424B // "KBLK" as little-endian bytes
	BlockMagicOffset = 0x00
	BlockSizeOffset  = 0x04
	BlockFlagsOffset = 0x08
	BlockNextOffset  = 0x0C

	// BlockFlagFree marks a block as available for allocation.
	BlockFlagFree = 0x1

	// NoNext terminates the block list.
	NoNext = 0xFFFFFFFF

	// MinPayload is the smallest payload a split may leave behind.
	MinPayload = 8
)

// Alignment for heap payloads.
const (
	PayloadAlignment     = 8
	PayloadAlignmentMask = PayloadAlignment - 1
)

// Process descriptor record layout (little-endian, 64 bytes):
//
//	0x00  pid
//	0x04  state
//	0x08  stack base
//	0x0C  stack pointer
//	0x10  entry address
//	0x14  reserved (priority, age, msg)
//	0x20  name, NUL terminated
const (
	RecordSize               = 64
	RecordPIDOffset          = 0x00
	RecordStateOffset        = 0x04
	RecordStackBaseOffset    = 0x08
	RecordStackPointerOffset = 0x0C
	RecordEntryOffset        = 0x10
	RecordPriorityOffset     = 0x14
	RecordAgeOffset          = 0x18
	RecordMsgOffset          = 0x1C
	RecordNameOffset         = 0x20
	NameCapacity             = 32
)

// ReturnAddressWidth is the width of one return-address slot on a process stack.
const ReturnAddressWidth = 4
