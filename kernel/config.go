package kernel

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kacchikit/internal/buf"
	"github.com/joshuapare/kacchikit/internal/format"
	"github.com/joshuapare/kacchikit/kernel/region"
)

// Default layout values.
const (
	DefaultKernelEnd  = 0x00200000
	DefaultHeapSize   = 1 << 20
	DefaultStackSize  = 4096
	DefaultStackSlots = 16
)

// ErrInvalidConfig indicates a Config that cannot produce a kernel layout.
var ErrInvalidConfig = errors.New("kernel: invalid config")

// Config describes the memory layout established at boot.
//
// The managed range starts at KernelEnd: StackSlots*StackSize bytes of stack
// pool followed by HeapSize bytes of heap.
type Config struct {
	KernelEnd  uint32 `yaml:"kernel_end" json:"kernel_end"`
	HeapSize   int    `yaml:"heap_size" json:"heap_size"`
	StackSize  int    `yaml:"stack_size" json:"stack_size"`
	StackSlots int    `yaml:"stack_slots" json:"stack_slots"`
	FatalOOM   bool   `yaml:"fatal_oom" json:"fatal_oom"`
}

// DefaultConfig returns a 1 MiB heap and sixteen 4 KiB stacks placed at
// 0x00200000, with fatal heap exhaustion.
func DefaultConfig() Config {
	return Config{
		KernelEnd:  DefaultKernelEnd,
		HeapSize:   DefaultHeapSize,
		StackSize:  DefaultStackSize,
		StackSlots: DefaultStackSlots,
		FatalOOM:   true,
	}
}

// LoadConfig reads a YAML file over DefaultConfig, so omitted keys keep their
// defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// StackBytes returns the size of the stack pool range.
func (c Config) StackBytes() int {
	return c.StackSize * c.StackSlots
}

// Size returns the total managed range.
func (c Config) Size() int {
	return c.StackBytes() + c.HeapSize
}

// size is Size with overflow reported.
func (c Config) size() (int, bool) {
	stacks, ok := buf.MulOverflowSafe(c.StackSize, c.StackSlots)
	if !ok {
		return 0, false
	}
	return buf.AddOverflowSafe(stacks, c.HeapSize)
}

// Validate checks the layout fits the 32-bit address space and each part is
// usable.
func (c Config) Validate() error {
	switch {
	case c.KernelEnd == 0:
		return fmt.Errorf("%w: kernel_end must be non-zero", ErrInvalidConfig)
	case c.KernelEnd%8 != 0:
		return fmt.Errorf("%w: kernel_end %s is not 8-byte aligned", ErrInvalidConfig, region.Addr(c.KernelEnd))
	case c.StackSize <= 0 || !format.IsAligned8(c.StackSize):
		return fmt.Errorf("%w: stack_size %d must be a positive multiple of 8", ErrInvalidConfig, c.StackSize)
	case c.StackSlots <= 0:
		return fmt.Errorf("%w: stack_slots must be positive", ErrInvalidConfig)
	case c.HeapSize < format.BlockHeaderSize+format.MinPayload:
		return fmt.Errorf("%w: heap_size %d below minimum %d", ErrInvalidConfig, c.HeapSize, format.BlockHeaderSize+format.MinPayload)
	}
	size, ok := c.size()
	if !ok || uint64(c.KernelEnd)+uint64(size) > 1<<32 {
		return fmt.Errorf("%w: %d stacks of %d bytes and a %d byte heap at %s overflow the address space",
			ErrInvalidConfig, c.StackSlots, c.StackSize, c.HeapSize, region.Addr(c.KernelEnd))
	}
	return nil
}
