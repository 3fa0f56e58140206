package rcon

import (
	"math"
	"sync"
	"testing"
)

func TestSequentialIDsStartAtOne(t *testing.T) {
	g := NewSequentialIDs()
	for want := int32(1); want <= 3; want++ {
		if got := g.Next(); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestSequentialIDsSeed(t *testing.T) {
	g := NewSequentialIDs()
	g.Next()
	g.Seed(40)
	if got := g.Next(); got != 40 {
		t.Fatalf("expected 40 after seed, got %d", got)
	}
	if got := g.Next(); got != 41 {
		t.Fatalf("expected 41, got %d", got)
	}
}

func TestSequentialIDsWrapSkipsReservedIDs(t *testing.T) {
	g := NewSequentialIDs()
	g.Seed(math.MaxInt32)
	if got := g.Next(); got != math.MaxInt32 {
		t.Fatalf("expected MaxInt32, got %d", got)
	}
	if got := g.Next(); got != 1 {
		t.Fatalf("expected wrap to 1, got %d", got)
	}
}

func TestSequentialIDsConcurrentUnique(t *testing.T) {
	g := NewSequentialIDs()
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[int32]bool, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int32, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
