package queue

import (
	"sync"
	"testing"
	"time"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		got, ok := q.Pop()
		if !ok || got != i {
			t.Fatalf("Pop() = %d, %v; want %d, true", got, ok, i)
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	done := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		if !ok {
			t.Error("expected ok")
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond) // give the goroutine time to block
	q.Push(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestCancelWakesBlockedPop(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Pop to report canceled (ok=false)")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Cancel")
	}
}

func TestCancelDrainPreservesQueuedItems(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	q.Push(1)
	q.Push(2)
	q.Cancel()

	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("first drained Pop = %d, %v; want 1, true", v, ok)
	}
	v, ok = q.Pop()
	if !ok || v != 2 {
		t.Fatalf("second drained Pop = %d, %v; want 2, true", v, ok)
	}
	_, ok = q.Pop()
	if ok {
		t.Fatal("expected Pop on drained+canceled queue to report false")
	}
}

func TestPushAfterCancelReturnsFalse(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	q.Cancel()
	if q.Push(1) {
		t.Fatal("expected Push after Cancel to return false")
	}
}

func TestOverflowDropOldest(t *testing.T) {
	q := New[int]("test", 2, OverflowDropOldest, nil)
	q.Push(1)
	q.Push(2)
	q.Push(3) // should evict 1

	if got := q.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	v, _ := q.Pop()
	if v != 2 {
		t.Fatalf("Pop() = %d, want 2 (1 should have been evicted)", v)
	}
}

func TestOverflowFatalInvokesHook(t *testing.T) {
	var gotName string
	var gotSize int
	var mu sync.Mutex
	q := New[int]("video-enc-in", 1, OverflowFatal, func(name string, size int) {
		mu.Lock()
		gotName, gotSize = name, size
		mu.Unlock()
	})

	q.Push(1)
	q.Push(2) // at capacity, triggers the fatal hook instead of os.Exit

	mu.Lock()
	defer mu.Unlock()
	if gotName != "video-enc-in" || gotSize != 1 {
		t.Fatalf("fatal hook got (%q, %d), want (%q, 1)", gotName, gotSize, "video-enc-in")
	}
}

func TestPeekFuncDoesNotRemove(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	q.Push(10)

	var seen int
	ok := q.PeekFunc(func(item int) { seen = item })
	if !ok || seen != 10 {
		t.Fatalf("PeekFunc saw %d, %v; want 10, true", seen, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after peek, want 1 (peek must not remove)", q.Len())
	}
}

func TestPeekFuncOnEmptyQueue(t *testing.T) {
	q := New[int]("test", 0, OverflowBlock, nil)
	called := false
	ok := q.PeekFunc(func(int) { called = true })
	if ok || called {
		t.Fatal("PeekFunc on empty queue must return false and not invoke fn")
	}
}

func TestLenAndName(t *testing.T) {
	q := New[int]("video-in", 10, OverflowBlock, nil)
	if q.Name() != "video-in" {
		t.Fatalf("Name() = %q", q.Name())
	}
	q.Push(1)
	q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}
