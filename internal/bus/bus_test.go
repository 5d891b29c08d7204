package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	b := New[string]()
	var got []string
	unsub := b.Subscribe(func(s string) { got = append(got, s) })

	b.Publish("cart:updated")
	unsub()
	b.Publish("cart:cleared")

	assert.Equal(t, []string{"cart:updated"}, got)
	assert.Equal(t, 0, b.Len())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New[int]()
	unsub := b.Subscribe(func(int) {})
	other := b.Subscribe(func(int) {})
	defer other()

	unsub()
	unsub()
	assert.Equal(t, 1, b.Len())
}

func TestConcurrentPublish(t *testing.T) {
	t.Parallel()

	b := New[int]()
	var mu sync.Mutex
	sum := 0
	b.Subscribe(func(n int) {
		mu.Lock()
		sum += n
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(2)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, sum)
}
