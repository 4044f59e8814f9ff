package bus

import (
	"sync"
	"testing"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()

	var got []int
	b.Subscribe("stats.changed", func(event any) {
		got = append(got, event.(int)*10)
	})
	b.Subscribe("stats.changed", func(event any) {
		got = append(got, event.(int)*100)
	})

	b.Publish("stats.changed", 7)

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0] != 70 || got[1] != 700 {
		t.Errorf("unexpected delivery values: %v", got)
	}
}

func TestPublishUnknownTopicIsNoOp(t *testing.T) {
	b := New()

	called := false
	b.Subscribe("a", func(any) { called = true })

	b.Publish("b", struct{}{})

	if called {
		t.Error("handler for topic a should not receive topic b events")
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := New()

	delivered := false
	b.Subscribe("t", func(any) { panic("boom") })
	b.Subscribe("t", func(any) { delivered = true })

	b.Publish("t", nil)

	if !delivered {
		t.Error("second handler should run despite first handler panicking")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe("t", func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("t", j)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 20*50 {
		t.Errorf("expected %d deliveries, got %d", 20*50, count)
	}
}
