package orchestrator

import (
	"sync"
	"testing"
)

func TestUserLocksSerializeSameUser(t *testing.T) {
	locks := newUserLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alice")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if locks.len() != 0 {
		t.Errorf("%d entries left after all unlocks", locks.len())
	}
}

func TestUserLocksIndependentUsers(t *testing.T) {
	locks := newUserLocks()

	unlockA := locks.Lock("alice")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("bob")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
