package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kacchikit/kernel/region"
)

const (
	testSlotSize  = 4096
	testSlotCount = 4
)

func newTestPool(t testing.TB) *StackPool {
	t.Helper()
	r := newTestRegion(t, testBase, testSlotSize*testSlotCount)
	p, err := NewStackPool(r, testSlotSize, testSlotCount, WithStackLogger(discard))
	require.NoError(t, err)
	return p
}

func Test_StackPoolInit(t *testing.T) {
	p := newTestPool(t)
	require.Equal(t, testSlotCount, p.Len())
	require.Zero(t, p.Used())
	require.Equal(t, testSlotCount, p.Free())
	require.Equal(t, testSlotSize, p.SlotSize())
}

func Test_StackPoolRejectsBadLayout(t *testing.T) {
	r := newTestRegion(t, testBase, 1024)

	_, err := NewStackPool(r, 0, 1, WithStackLogger(discard))
	require.ErrorIs(t, err, ErrBadSlotSize)
	_, err = NewStackPool(r, 100, 1, WithStackLogger(discard))
	require.ErrorIs(t, err, ErrBadSlotSize)
	_, err = NewStackPool(r, 512, 3, WithStackLogger(discard))
	require.ErrorIs(t, err, ErrRegionTooSmall)
	_, err = NewStackPool(r, 512, 0, WithStackLogger(discard))
	require.ErrorIs(t, err, ErrRegionTooSmall)
}

// Test_StackPoolAcquireReturnsTops verifies handles are slot tops, not bases.
func Test_StackPoolAcquireReturnsTops(t *testing.T) {
	p := newTestPool(t)

	for i := range testSlotCount {
		top, err := p.Acquire()
		require.NoError(t, err)
		require.Equal(t, testBase+region.Addr((i+1)*testSlotSize), top)
		require.Equal(t, testBase+region.Addr(i*testSlotSize), p.Base(top))
		require.True(t, p.InUse(i))
	}
	require.Equal(t, testSlotCount, p.Used())
	require.Zero(t, p.Free())
}

// Test_StackPoolExhaustion verifies N acquires succeed with distinct tops and the N+1th fails.
func Test_StackPoolExhaustion(t *testing.T) {
	p := newTestPool(t)

	seen := make(map[region.Addr]bool)
	for range testSlotCount {
		top, err := p.Acquire()
		require.NoError(t, err)
		require.False(t, seen[top], "duplicate top %s", top)
		seen[top] = true
	}

	top, err := p.Acquire()
	require.ErrorIs(t, err, ErrOutOfStacks)
	require.Equal(t, region.Null, top)
	require.Equal(t, testSlotCount, p.Used())
}

// Test_StackPoolReleaseReuse verifies a released slot is handed out again first.
func Test_StackPoolReleaseReuse(t *testing.T) {
	p := newTestPool(t)
	s1, _ := p.Acquire()
	s2, _ := p.Acquire()
	s3, _ := p.Acquire()

	require.NoError(t, p.Release(s2))
	require.Equal(t, 2, p.Used())
	require.False(t, p.InUse(1))

	again, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, s2, again)

	require.NoError(t, p.Release(s1))
	require.NoError(t, p.Release(s3))
	require.NoError(t, p.Release(again))
	require.Zero(t, p.Used())
}

func Test_StackPoolDoubleFree(t *testing.T) {
	p := newTestPool(t)
	s1, _ := p.Acquire()
	require.NoError(t, p.Release(s1))

	err := p.Release(s1)
	require.ErrorIs(t, err, ErrDoubleFree)
	require.Zero(t, p.Used())
}

func Test_StackPoolReleaseNull(t *testing.T) {
	p := newTestPool(t)
	p.Acquire()
	require.NoError(t, p.Release(region.Null))
	require.Equal(t, 1, p.Used())
}

// Test_StackPoolRejectsNonTopAddresses verifies only exact slot tops are accepted.
func Test_StackPoolRejectsNonTopAddresses(t *testing.T) {
	p := newTestPool(t)
	top, _ := p.Acquire()

	tests := []struct {
		name string
		addr region.Addr
	}{
		{"slot base", testBase},
		{"interior", top - 8},
		{"below pool", testBase - testSlotSize},
		{"past last slot", testBase + region.Addr((testSlotCount+1)*testSlotSize)},
		{"unaligned", top + 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, p.Release(tt.addr), ErrInvalidPointer)
			require.Equal(t, 1, p.Used())
		})
	}
}

// Test_StackPoolSlotBytes verifies slot memory is exposed only while in use.
func Test_StackPoolSlotBytes(t *testing.T) {
	p := newTestPool(t)
	top, _ := p.Acquire()

	b, err := p.Slot(top)
	require.NoError(t, err)
	require.Len(t, b, testSlotSize)

	require.NoError(t, p.Release(top))
	_, err = p.Slot(top)
	require.ErrorIs(t, err, ErrInvalidPointer)
}

func Test_StackPoolStats(t *testing.T) {
	p := newTestPool(t)
	p.Acquire()
	p.Acquire()

	require.Equal(t, StackStats{Slots: 4, Used: 2, Free: 2, SlotSize: testSlotSize}, p.Stats())
}
