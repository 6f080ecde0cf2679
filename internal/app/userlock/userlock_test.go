package userlock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameID(t *testing.T) {
	k := New()

	const workers = 32
	const iterations = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := k.Lock("u1")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Fatalf("expected %d, got %d", workers*iterations, counter)
	}
}

func TestLockDuplicateIDsDoNotDeadlock(t *testing.T) {
	k := New()

	unlock := k.Lock("u1", "u1", "u1")
	unlock()

	// Re-acquiring proves the release actually freed the stripe.
	unlock = k.Lock("u1")
	unlock()
}

func TestLockEmptyIDsIgnored(t *testing.T) {
	k := New()

	unlock := k.Lock("", "")
	unlock()

	unlock = k.Lock()
	unlock()
}

func TestLockCollidingIDsShareStripe(t *testing.T) {
	// One stripe forces every ID to collide.
	k := NewWithStripes(1)

	unlock := k.Lock("u1", "u2", "u3")
	unlock()

	unlock = k.Lock("u4")
	unlock()
}

func TestLockMultipleIDsCrossOrder(t *testing.T) {
	k := New()

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			unlock := k.Lock("alice", "bob")
			unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			unlock := k.Lock("bob", "alice")
			unlock()
		}
	}()
	wg.Wait()
}
