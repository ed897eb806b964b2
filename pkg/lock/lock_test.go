package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testSerializes(t *testing.T, l Locker) {
	t.Helper()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "conv-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
}

func TestLocalLocker_Serializes(t *testing.T) {
	testSerializes(t, NewLocalLocker())
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b blocked by a: %v", err)
	}
	unlockB()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op

	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected entries to be released, got %d", n)
	}
}

func TestRedisLocker_Serializes(t *testing.T) {
	addr := os.Getenv("PLUGBOT_TEST_REDIS")
	if addr == "" {
		t.Skip("PLUGBOT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	testSerializes(t, NewRedisLocker(client, 10*time.Second))
}
