package ringbuf

import (
	"sync"
	"testing"

	"trade-assistv1/internal/model"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4)

	q1 := model.Quote{Symbol: "ACME"}
	q2 := model.Quote{Symbol: "GLOBEX"}

	if !r.Push(q1) {
		t.Fatal("push q1 should succeed")
	}
	if !r.Push(q2) {
		t.Fatal("push q2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Symbol != "ACME" {
		t.Fatalf("expected ACME, got %v ok=%v", got.Symbol, ok)
	}

	got, ok = r.Pop()
	if !ok || got.Symbol != "GLOBEX" {
		t.Fatalf("expected GLOBEX, got %v ok=%v", got.Symbol, ok)
	}

	_, ok = r.Pop()
	if ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2)

	r.Push(model.Quote{Symbol: "1"})
	r.Push(model.Quote{Symbol: "2"})

	// Buffer is full
	ok := r.Push(model.Quote{Symbol: "3"})
	if ok {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := 0; round < 10; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.Quote{Size: int64(round*4 + i)}) {
				t.Fatalf("round %d: push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			q, ok := r.Pop()
			if !ok || q.Size != int64(round*4+i) {
				t.Fatalf("round %d: expected size=%d, got %d ok=%v", round, round*4+i, q.Size, ok)
			}
		}
	}
}

func TestRing_SPSCConcurrent(t *testing.T) {
	r := New(1024)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(model.Quote{Size: int64(i)}) {
				i++
			}
		}
	}()

	var received int
	go func() {
		defer wg.Done()
		for received < n {
			if q, ok := r.Pop(); ok {
				if q.Size != int64(received) {
					t.Errorf("out of order: expected %d, got %d", received, q.Size)
					return
				}
				received++
			}
		}
	}()

	wg.Wait()
	if received != n {
		t.Fatalf("expected %d received, got %d", n, received)
	}
}
