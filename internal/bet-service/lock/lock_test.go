package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryMutualExclusion(t *testing.T) {
	m := NewMemory()
	var counter, max int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "bet-1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("at most one holder per key, saw %d", max)
	}
	if len(m.locks) != 0 {
		t.Fatalf("lock table should be empty after release, has %d entries", len(m.locks))
	}
}

func TestMemoryIndependentKeys(t *testing.T) {
	m := NewMemory()

	release1, err := m.Acquire(context.Background(), "bet-1")
	if err != nil {
		t.Fatalf("Acquire bet-1: %v", err)
	}
	defer release1()

	// aposta distinta não contende
	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(context.Background(), "bet-2")
		if err == nil {
			release2()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire on a different bet should not block")
	}
}
