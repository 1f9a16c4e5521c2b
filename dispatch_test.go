package volctl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherRunsInPostOrder(t *testing.T) {
	d := newDispatcher()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		d.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	d.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestDispatcherCloseDrainsPending(t *testing.T) {
	d := newDispatcher()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 50; i++ {
		d.Post(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	d.Close()

	assert.Equal(t, 50, ran)
}

func TestDispatcherPostAfterCloseIsDropped(t *testing.T) {
	d := newDispatcher()
	d.Close()

	assert.NotPanics(t, func() {
		d.Post(func() { t.Error("must not run after close") })
	})
}
