package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		inside int32
		max    int32
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "PC1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&max)
				if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if max != 1 {
		t.Errorf("max holders = %d, want 1", max)
	}
	if k.size() != 0 {
		t.Errorf("entries left = %d", k.size())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "PC1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "PC2")
	if err != nil {
		t.Fatalf("second key blocked: %v", err)
	}
	unlockB()
}

func TestKeyedMutexContextCancel(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "PC1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := k.Lock(ctx, "PC1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	unlock()
	unlock() // second call is a no-op
	if k.size() != 0 {
		t.Errorf("entries left = %d", k.size())
	}
}

func TestLedgerClockMonotonic(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	c := newLedgerClock(func() time.Time { return fixed })

	first := c.Next()
	if first.Nanosecond()%1000 != 0 {
		t.Errorf("not truncated to microseconds: %v", first)
	}
	prev := first
	for i := 0; i < 100; i++ {
		next := c.Next()
		if !next.After(prev) {
			t.Fatalf("Next() = %v after %v", next, prev)
		}
		prev = next
	}
	if got := prev.Sub(first); got != 100*time.Microsecond {
		t.Errorf("drift = %v, want 100µs", got)
	}
}
