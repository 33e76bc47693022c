package sparkplug

import (
	"sync"
	"testing"
)

func TestSequence_WrapsAfter255(t *testing.T) {
	var seq Sequence

	for i := 0; i < 256; i++ {
		if got := seq.Next(); got != uint8(i) {
			t.Fatalf("Next() call %d = %d, want %d", i, got, i)
		}
	}
	if got := seq.Next(); got != 0 {
		t.Errorf("Next() after 256 calls = %d, want wrap to 0", got)
	}
}

func TestSequence_Reset(t *testing.T) {
	var seq Sequence

	seq.Next()
	seq.Next()
	seq.Reset()

	if got := seq.Next(); got != 0 {
		t.Errorf("Next() after Reset() = %d, want 0", got)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	var seq Sequence
	var wg sync.WaitGroup

	seen := make([]int, 256)
	var mu sync.Mutex

	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := seq.Next()
			mu.Lock()
			seen[n]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for n, count := range seen {
		if count != 1 {
			t.Errorf("sequence %d issued %d times, want exactly once", n, count)
		}
	}
}
