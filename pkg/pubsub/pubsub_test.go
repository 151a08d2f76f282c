package pubsub

import (
	"github.com/stretchr/testify/assert"
	"log/slog"
	"sync"
	"testing"
)

func TestPublisher(t *testing.T) {
	p := New[int](slog.New(slog.DiscardHandler))

	const clients = 10
	var chs []chan int
	for range clients {
		chs = append(chs, p.Subscribe())
	}
	assert.Equal(t, clients, p.Subscribers())

	p.Publish(123)

	var wg sync.WaitGroup
	wg.Add(len(chs))

	for _, ch := range chs {
		go func(ch chan int) {
			defer wg.Done()
			assert.Equal(t, 123, <-ch)

			p.Unsubscribe(ch)
		}(ch)
	}

	wg.Wait()
	assert.Zero(t, p.Subscribers())
}

func TestPublisher_Lagging(t *testing.T) {
	p := New[int](slog.New(slog.DiscardHandler))
	ch := p.Subscribe()

	p.Publish(1)
	p.Publish(2)
	p.Publish(3)

	assert.Equal(t, 3, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value: %d", v)
	default:
	}
}

func TestPublisher_NoSubscribers(t *testing.T) {
	p := New[string](slog.New(slog.DiscardHandler))
	p.Publish("foo")
	assert.Zero(t, p.Subscribers())
}
