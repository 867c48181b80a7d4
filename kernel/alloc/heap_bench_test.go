package alloc

import "testing"

// BenchmarkAllocFree measures the alloc/free round trip on a warm heap.
func BenchmarkAllocFree(b *testing.B) {
	h := newTestHeap(b, 1024*1024)
	// A few long-lived blocks so the scan does some work.
	for range 32 {
		mustAlloc(b, h, 64)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		addr, err := h.Alloc(128)
		if err != nil {
			b.Fatal(err)
		}
		if err := h.Free(addr); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStackAcquireRelease measures a slot round trip.
func BenchmarkStackAcquireRelease(b *testing.B) {
	r := newTestRegion(b, testBase, 64*4096)
	p, err := NewStackPool(r, 4096, 64, WithStackLogger(discard))
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for b.Loop() {
		top, err := p.Acquire()
		if err != nil {
			b.Fatal(err)
		}
		if err := p.Release(top); err != nil {
			b.Fatal(err)
		}
	}
}
